package config

import "github.com/JakeFAU/remote-fetch/internal/auth"

func credential(pattern string) auth.Config {
	return auth.Config{Pattern: pattern, Username: "u"}
}
