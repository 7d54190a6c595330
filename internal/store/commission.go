package store

import "autoshop/workshop-service/internal/models"

// CommissionRates maps a role to the percentage of labor it earns.
// Roles absent from the map accrue nothing even when eligible.
type CommissionRates map[models.Role]int

// CommissionAmount computes the accrual for a completed assignment:
// rate percent of the role's summed task labor. A role with no priced
// tasks falls back to the ticket total so eligible completions always
// accrue a positive amount.
func CommissionAmount(rates CommissionRates, role models.Role, tasks []models.Task, ticketTotalCents int64) int64 {
	if !role.CommissionEligible() {
		return 0
	}
	rate, ok := rates[role]
	if !ok || rate <= 0 {
		return 0
	}
	var labor int64
	for _, task := range tasks {
		if task.Role == role {
			labor += task.LaborCents
		}
	}
	if labor <= 0 {
		labor = ticketTotalCents
	}
	if labor <= 0 {
		return 0
	}
	return labor * int64(rate) / 100
}
