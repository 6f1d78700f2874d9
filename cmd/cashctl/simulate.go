package main

import (
	"github.com/arloliu/go-cashio/config"
	"github.com/arloliu/go-cashio/profile"
)

// demoTable returns the bill table answered by the simulated validator.
func demoTable(p *profile.Profile) []byte {
	if p.Name == "id003" {
		// code, country, mantissa, exponent
		return []byte{
			1, 0x0C, 1, 1,
			2, 0x0C, 5, 1,
			3, 0x0C, 1, 2,
		}
	}

	// 24 records of mantissa, country, exponent; mantissa 0 is an empty slot
	raw := make([]byte, 24*5)
	copy(raw[0:], []byte{1, 'R', 'U', 'B', 1})
	copy(raw[5:], []byte{5, 'R', 'U', 'B', 1})
	copy(raw[10:], []byte{1, 'R', 'U', 'B', 2})
	copy(raw[15:], []byte{5, 'R', 'U', 'B', 2})

	return raw
}

// simulatedCassettes loads 100 and 500 RUB cassettes into a dispenser config
// that lists none.
func simulatedCassettes(cfg *config.Config) {
	p, err := cfg.LookupProfile()
	if err != nil || p.Role != profile.RoleDispenser || len(cfg.Cassettes) > 0 {
		return
	}

	cfg.Cassettes = []config.Cassette{
		{Mantissa: 1, Exponent: 2, Country: "RUB"},
		{Mantissa: 5, Exponent: 2, Country: "RUB"},
	}
}
