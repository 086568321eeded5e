package core

var categories = map[TransactionType][]string{
	Income: {"Salary", "Freelance", "Investment", "Business", "Other"},
	Expense: {
		"Food",
		"Transportation",
		"Shopping",
		"Bills",
		"Entertainment",
		"Healthcare",
		"Education",
		"Other",
	},
}

// Categories returns the selectable categories for a transaction type.
func Categories(t TransactionType) []string {
	return append([]string(nil), categories[t]...)
}

// IsCategory reports whether name belongs to the categories of t.
func IsCategory(t TransactionType, name string) bool {
	for _, c := range categories[t] {
		if c == name {
			return true
		}
	}
	return false
}
