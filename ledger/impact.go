package ledger

import "github.com/shopspring/decimal"

// NormalSide returns the side that increases an account of the given type:
// debit for assets and expenses, credit for liabilities, equity and income.
func NormalSide(t AccountType) Side {
	switch t {
	case Asset, Expense:
		return Debit
	default:
		return Credit
	}
}

// Impact is the signed change a leg makes to an account's balance.
//
// This is the only balance rule. The Engine applies it when posting and the
// Calculator applies it when replaying, so the two can never disagree.
func Impact(t AccountType, side Side, amount decimal.Decimal) decimal.Decimal {
	if side == NormalSide(t) {
		return amount
	}
	return amount.Neg()
}

// LineImpact applies Impact to both sides of a line.
func LineImpact(t AccountType, l Line) decimal.Decimal {
	return Impact(t, Debit, l.Debit).Add(Impact(t, Credit, l.Credit))
}
