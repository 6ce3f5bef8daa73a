package pipeline

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/hashing"
	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// defaultCountWindow applies when settings carry no count_window.
const defaultCountWindow = 60 * time.Second

// FraudStore is the cache surface the count, blacklist and duplicate checks
// hit.
type FraudStore interface {
	IncrementSMSCount(mobile string, window time.Duration) (int64, error)
	IsBlacklisted(mobile string) (bool, error)
	IsValidated(mobile, deviceID string) (bool, error)
}

// AttemptLookup resolves an SMS token to its pending onboarding attempt.
type AttemptLookup interface {
	GetAttempt(hash string) (*model.OnboardingAttempt, error)
}

// Recorder receives one audit event per executed check.
type Recorder interface {
	Record(mobile, checkName string, status model.CheckStatus, reason string)
}

// Input is one inbound SMS after sender normalization.
type Input struct {
	Mobile string // E.164 sender
	Body   string // message body exactly as the gateway delivered it
}

// Outcome is the pipeline verdict, with the per-check decisions that led
// to it. Attempt is the pending onboarding record the header check resolved;
// it is nil whenever the pipeline failed before or at that check.
type Outcome struct {
	Passed      bool
	FailedCheck string
	Reason      string
	Results     map[string]model.CheckStatus
	Attempt     *model.OnboardingAttempt
}

// Pipeline runs the fraud checks for every inbound SMS. Execution order is
// fixed; disabled checks record a decision and pass.
type Pipeline struct {
	fraud    FraudStore
	attempts AttemptLookup
	recorder Recorder
}

// runState carries what one Validate call learns between checks: the header
// check resolves the attempt, the duplicate check needs its device id.
type runState struct {
	attempt *model.OnboardingAttempt
}

func New(fraud FraudStore, attempts AttemptLookup, recorder Recorder) *Pipeline {
	return &Pipeline{
		fraud:    fraud,
		attempts: attempts,
		recorder: recorder,
	}
}

// Validate runs every check in order against the active settings, stopping
// at the first failure. Each executed check records exactly one audit event.
// The header check runs first so a malformed or unknown token never burns
// the sender's rate counter.
func (p *Pipeline) Validate(input Input, cfg *model.SettingsPayload) Outcome {
	results := make(map[string]model.CheckStatus, len(checkOrder))
	state := &runState{}

	for _, check := range checkOrder {
		if !enabled(check, &cfg.Checks) {
			results[check.Name()] = model.StatusDisabled
			p.recorder.Record(input.Mobile, check.Name(), model.StatusDisabled, "")
			continue
		}

		pass, reason, err := p.run(check, input, cfg, state)
		if err != nil {
			if check.failsOpen() {
				util.Warn("Check store error, failing open",
					zap.String("check", check.Name()),
					zap.String("mobile", util.MaskMobile(input.Mobile)),
					zap.Error(err))
				results[check.Name()] = model.StatusPass
				p.recorder.Record(input.Mobile, check.Name(), model.StatusPass, "store error, failed open")
				continue
			}

			util.Error("Check store error, failing closed",
				zap.String("check", check.Name()),
				zap.String("mobile", util.MaskMobile(input.Mobile)),
				zap.Error(err))
			results[check.Name()] = model.StatusFail
			p.recorder.Record(input.Mobile, check.Name(), model.StatusFail, "store error, failed closed")
			return Outcome{FailedCheck: check.Name(), Reason: "store unavailable", Results: results}
		}

		if !pass {
			results[check.Name()] = model.StatusFail
			p.recorder.Record(input.Mobile, check.Name(), model.StatusFail, reason)
			return Outcome{FailedCheck: check.Name(), Reason: reason, Results: results}
		}

		results[check.Name()] = model.StatusPass
		p.recorder.Record(input.Mobile, check.Name(), model.StatusPass, "")
	}

	return Outcome{Passed: true, Results: results, Attempt: state.attempt}
}

func (p *Pipeline) run(check Check, input Input, cfg *model.SettingsPayload, state *runState) (bool, string, error) {
	switch check {
	case CheckHeaderHash:
		return p.checkHeaderHash(input, cfg, state)
	case CheckForeignNumber:
		return p.checkForeignNumber(input, cfg)
	case CheckCount:
		return p.checkCount(input, cfg)
	case CheckBlacklist:
		return p.checkBlacklist(input)
	case CheckDuplicate:
		return p.checkDuplicate(input, state)
	default:
		return false, "unknown check", nil
	}
}

// checkHeaderHash validates the message shape and resolves its token. The
// body must be exactly allowed_prefix + token of the configured length, and
// the token must point at a live onboarding attempt. A cache miss is a
// validation failure, not a store error.
func (p *Pipeline) checkHeaderHash(input Input, cfg *model.SettingsPayload, state *runState) (bool, string, error) {
	prefix := cfg.AllowedPrefix
	length := cfg.HashLength
	if length <= 0 {
		length = hashing.DefaultTokenLength
	}

	body := strings.TrimSpace(input.Body)
	if len(body) != len(prefix)+length {
		return false, "invalid message length", nil
	}
	if !strings.HasPrefix(body, prefix) {
		return false, "missing message prefix", nil
	}

	hash := body[len(prefix):]
	attempt, err := p.attempts.GetAttempt(hash)
	if err != nil || attempt == nil {
		return false, "hash not found or expired", nil
	}

	state.attempt = attempt
	return true, "", nil
}

// checkForeignNumber rejects senders whose country code is not on the
// allow-list. Pure computation, no store access.
func (p *Pipeline) checkForeignNumber(input Input, cfg *model.SettingsPayload) (bool, string, error) {
	cc, ok := util.CountryCode(input.Mobile)
	if !ok {
		return false, "invalid mobile number format", nil
	}
	for _, allowed := range cfg.AllowedCountries {
		if cc == allowed {
			return true, "", nil
		}
	}
	return false, "country code not supported", nil
}

func (p *Pipeline) checkCount(input Input, cfg *model.SettingsPayload) (bool, string, error) {
	window := cfg.CountWindow
	if window <= 0 {
		window = defaultCountWindow
	}
	count, err := p.fraud.IncrementSMSCount(input.Mobile, window)
	if err != nil {
		return false, "", err
	}
	if cfg.MaxSMSCount > 0 && count > int64(cfg.MaxSMSCount) {
		return false, "sms count exceeded", nil
	}
	return true, "", nil
}

func (p *Pipeline) checkBlacklist(input Input) (bool, string, error) {
	blocked, err := p.fraud.IsBlacklisted(input.Mobile)
	if err != nil {
		return false, "", err
	}
	if blocked {
		return false, "mobile blacklisted", nil
	}
	return true, "", nil
}

// checkDuplicate tests the mobile+device composite against the validated
// set written on every successful verification.
func (p *Pipeline) checkDuplicate(input Input, state *runState) (bool, string, error) {
	deviceID := ""
	if state.attempt != nil {
		deviceID = state.attempt.DeviceID
	}
	seen, err := p.fraud.IsValidated(input.Mobile, deviceID)
	if err != nil {
		return false, "", err
	}
	if seen {
		return false, "mobile and device already validated", nil
	}
	return true, "", nil
}

func enabled(check Check, s *model.CheckSettings) bool {
	switch check {
	case CheckHeaderHash:
		return s.HeaderHashEnabled
	case CheckForeignNumber:
		return s.ForeignNumberEnabled
	case CheckCount:
		return s.CountEnabled
	case CheckBlacklist:
		return s.BlacklistEnabled
	case CheckDuplicate:
		return s.DuplicateEnabled
	}
	return false
}
