// Package units provides canonical unit conversions shared by the
// normalization layer and the catalog loaders.
package units

// HoursPerMonth is the standard billing assumption.
const HoursPerMonth = 730.0

// HourlyToMonthly converts an hourly rate to a monthly one.
func HourlyToMonthly(hourly float64) float64 {
	return hourly * HoursPerMonth
}

// MonthlyToDaily calculates daily cost from monthly.
func MonthlyToDaily(monthly float64) float64 {
	return monthly / 30.0
}

// GBToTB converts gigabytes to terabytes.
func GBToTB(gb float64) float64 {
	return gb / 1024
}

// TBToGB converts terabytes to gigabytes.
func TBToGB(tb float64) float64 {
	return tb * 1024
}

// MiBToGiB converts mebibytes to gibibytes. Some connectors report instance
// memory in MiB.
func MiBToGiB(mib float64) float64 {
	return mib / 1024
}
