package ledger

import "time"

// Config is the explicit program configuration handed to the engine at startup.
// Nothing in this package reads ambient settings.
type Config struct {
	Schedule Schedule
	Tariffs  TariffTable

	// Now is the clock used for paid dates, transaction timestamps and the
	// "current calendar month". Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig is the 2025/26 cycle: eight months from 2025-08, 100 per month
// for every sacrifice type.
func DefaultConfig() Config {
	return Config{
		Schedule: DefaultSchedule(),
		Tariffs:  DefaultTariffs(),
		Now:      time.Now,
	}
}

func (c Config) withDefaults() Config {
	if c.Schedule.Len() == 0 {
		c.Schedule = DefaultSchedule()
	}
	if c.Tariffs == nil {
		c.Tariffs = DefaultTariffs()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
