//go:build !race

package otpauth

func passwordHashCost() int {
	return 12
}
