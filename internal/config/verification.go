package config

import (
	"time"
)

// Limit is a request budget: at most Max hits per Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// VerificationConfig collects every tunable of the verification core so it
// can be passed to the engine in one piece and overridden in tests.
type VerificationConfig struct {
	CodeExpiry   time.Duration // measured from the record's updated_at
	MaxAttempts  int           // wrong guesses before a lock
	LockDuration time.Duration

	SignupPerIP      Limit
	SignupPerEmail   Limit
	VerifyPerIP      Limit
	ResendPerEmail   Limit
	ResendPerIP      Limit
	DispatchPerEmail Limit
	DispatchPerIP    Limit
	RequestPerIP     Limit // coarse HTTP limit across all /v1 routes

	BanThreshold int           // failures before a ban
	BanDuration  time.Duration // how long a ban lasts
	BanIdleTTL   time.Duration // untouched ban entries are dropped after this

	MaxTrackedKeys int           // cap on in-memory limiter keys
	SweepInterval  time.Duration // janitor period

	StatsTTL       time.Duration // public stats cache lifetime
	SequenceOffset int64         // base for the public sequence number

	// Backend selects the limiter/ban store: "memory" or "redis".
	Backend string
}

// DefaultVerificationConfig returns the production constants.
func DefaultVerificationConfig() VerificationConfig {
	return VerificationConfig{
		CodeExpiry:   15 * time.Minute,
		MaxAttempts:  4,
		LockDuration: time.Hour,

		SignupPerIP:      Limit{Max: 3, Window: time.Hour},
		SignupPerEmail:   Limit{Max: 5, Window: time.Hour},
		VerifyPerIP:      Limit{Max: 10, Window: time.Hour},
		ResendPerEmail:   Limit{Max: 3, Window: time.Hour},
		ResendPerIP:      Limit{Max: 10, Window: time.Hour},
		DispatchPerEmail: Limit{Max: 5, Window: time.Hour},
		DispatchPerIP:    Limit{Max: 10, Window: time.Hour},
		RequestPerIP:     Limit{Max: 120, Window: time.Minute},

		BanThreshold: 20,
		BanDuration:  time.Hour,
		BanIdleTTL:   24 * time.Hour,

		MaxTrackedKeys: 10000,
		SweepInterval:  5 * time.Minute,

		StatsTTL:       time.Minute,
		SequenceOffset: 1000,

		Backend: "memory",
	}
}

// LoadVerificationConfig starts from the defaults and applies any VERIFY_*
// overrides found in the environment.
func LoadVerificationConfig() VerificationConfig {
	c := DefaultVerificationConfig()
	c.CodeExpiry = envDur("VERIFY_CODE_EXPIRY", c.CodeExpiry)
	c.MaxAttempts = envInt("VERIFY_MAX_ATTEMPTS", c.MaxAttempts)
	c.LockDuration = envDur("VERIFY_LOCK_DURATION", c.LockDuration)

	c.SignupPerIP = envLimit("VERIFY_SIGNUP_PER_IP", c.SignupPerIP)
	c.SignupPerEmail = envLimit("VERIFY_SIGNUP_PER_EMAIL", c.SignupPerEmail)
	c.VerifyPerIP = envLimit("VERIFY_VERIFY_PER_IP", c.VerifyPerIP)
	c.ResendPerEmail = envLimit("VERIFY_RESEND_PER_EMAIL", c.ResendPerEmail)
	c.ResendPerIP = envLimit("VERIFY_RESEND_PER_IP", c.ResendPerIP)
	c.DispatchPerEmail = envLimit("VERIFY_DISPATCH_PER_EMAIL", c.DispatchPerEmail)
	c.DispatchPerIP = envLimit("VERIFY_DISPATCH_PER_IP", c.DispatchPerIP)
	c.RequestPerIP = envLimit("HTTP_REQUESTS_PER_IP", c.RequestPerIP)

	c.BanThreshold = envInt("VERIFY_BAN_THRESHOLD", c.BanThreshold)
	c.BanDuration = envDur("VERIFY_BAN_DURATION", c.BanDuration)
	c.BanIdleTTL = envDur("VERIFY_BAN_IDLE_TTL", c.BanIdleTTL)

	c.MaxTrackedKeys = envInt("VERIFY_MAX_TRACKED_KEYS", c.MaxTrackedKeys)
	c.SweepInterval = envDur("VERIFY_SWEEP_INTERVAL", c.SweepInterval)
	c.StatsTTL = envDur("VERIFY_STATS_TTL", c.StatsTTL)
	c.SequenceOffset = int64(envInt("VERIFY_SEQUENCE_OFFSET", int(c.SequenceOffset)))
	c.Backend = envStr("VERIFY_LIMIT_BACKEND", c.Backend)

	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// envLimit reads <prefix>_MAX and <prefix>_WINDOW.
func envLimit(prefix string, d Limit) Limit {
	l := Limit{
		Max:    envInt(prefix+"_MAX", d.Max),
		Window: envDur(prefix+"_WINDOW", d.Window),
	}
	if l.Max < 1 {
		l.Max = d.Max
	}
	if l.Window <= 0 {
		l.Window = d.Window
	}
	return l
}
