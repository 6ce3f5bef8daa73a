package pipeline

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sms-bridge/internal/model"
)

type fakeFraud struct {
	count     int64
	countErr  error
	blacklist bool
	blErr     error
	validated map[string]bool
	valErr    error
}

func (f *fakeFraud) IncrementSMSCount(mobile string, window time.Duration) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.count++
	return f.count, nil
}

func (f *fakeFraud) IsBlacklisted(mobile string) (bool, error) {
	return f.blacklist, f.blErr
}

func (f *fakeFraud) IsValidated(mobile, deviceID string) (bool, error) {
	if f.valErr != nil {
		return false, f.valErr
	}
	return f.validated[mobile+":"+deviceID], nil
}

type fakeAttempts struct {
	attempts map[string]*model.OnboardingAttempt
}

func (f *fakeAttempts) GetAttempt(hash string) (*model.OnboardingAttempt, error) {
	if a, ok := f.attempts[hash]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("key not found: active_onboarding:%s", hash)
}

type recorded struct {
	check  string
	status model.CheckStatus
}

type fakeRecorder struct {
	events []recorded
}

func (f *fakeRecorder) Record(mobile, checkName string, status model.CheckStatus, reason string) {
	f.events = append(f.events, recorded{check: checkName, status: status})
}

const (
	testMobile = "+919876543210"
	testToken  = "ABCDEF23"
	testDevice = "device-1"
)

func allEnabled() *model.SettingsPayload {
	return &model.SettingsPayload{
		AllowedPrefix:    "ONBOARD:",
		AllowedCountries: []string{"+91", "+44"},
		HashLength:       8,
		MaxSMSCount:      3,
		CountWindow:      60 * time.Second,
		Checks: model.CheckSettings{
			HeaderHashEnabled:    true,
			ForeignNumberEnabled: true,
			CountEnabled:         true,
			BlacklistEnabled:     true,
			DuplicateEnabled:     true,
		},
	}
}

func liveAttempts() *fakeAttempts {
	return &fakeAttempts{attempts: map[string]*model.OnboardingAttempt{
		testToken: {Mobile: testMobile, Hash: testToken, DeviceID: testDevice},
	}}
}

func validInput() Input {
	return Input{Mobile: testMobile, Body: "ONBOARD:" + testToken}
}

func TestValidateAllPass(t *testing.T) {
	rec := &fakeRecorder{}
	p := New(&fakeFraud{}, liveAttempts(), rec)

	out := p.Validate(validInput(), allEnabled())
	require.True(t, out.Passed)

	// The header check hands the resolved attempt to the caller.
	require.NotNil(t, out.Attempt)
	assert.Equal(t, testMobile, out.Attempt.Mobile)
	assert.Equal(t, testDevice, out.Attempt.DeviceID)

	// Every check executed exactly once, in order.
	require.Len(t, rec.events, 5)
	names := []string{"header_hash", "foreign_number", "count", "blacklist", "duplicate"}
	for i, want := range names {
		assert.Equal(t, want, rec.events[i].check)
		assert.Equal(t, model.StatusPass, rec.events[i].status)
		assert.Equal(t, model.StatusPass, out.Results[want])
	}
}

func TestValidateRejectsWrongPrefix(t *testing.T) {
	rec := &fakeRecorder{}
	fraud := &fakeFraud{}
	p := New(fraud, liveAttempts(), rec)

	input := validInput()
	input.Body = "CONFIRM:" + testToken

	out := p.Validate(input, allEnabled())
	assert.False(t, out.Passed)
	assert.Equal(t, "header_hash", out.FailedCheck)

	// Later checks never ran: the counter was not touched.
	assert.Len(t, rec.events, 1)
	assert.Len(t, out.Results, 1)
	assert.Zero(t, fraud.count)
}

func TestValidateRejectsWrongLength(t *testing.T) {
	p := New(&fakeFraud{}, liveAttempts(), &fakeRecorder{})

	input := validInput()
	input.Body = "ONBOARD:" + testToken + "X"

	out := p.Validate(input, allEnabled())
	assert.False(t, out.Passed)
	assert.Equal(t, "header_hash", out.FailedCheck)
	assert.Equal(t, "invalid message length", out.Reason)
}

func TestValidateRejectsUnknownToken(t *testing.T) {
	fraud := &fakeFraud{}
	p := New(fraud, &fakeAttempts{}, &fakeRecorder{})

	out := p.Validate(validInput(), allEnabled())
	assert.False(t, out.Passed)
	assert.Equal(t, "header_hash", out.FailedCheck)
	assert.Equal(t, "hash not found or expired", out.Reason)

	// A garbage token burns nothing: short-circuit before the counter.
	assert.Zero(t, fraud.count)
}

func TestValidateForeignNumberRejected(t *testing.T) {
	attempts := &fakeAttempts{attempts: map[string]*model.OnboardingAttempt{
		testToken: {Mobile: "+15551234567", Hash: testToken},
	}}
	p := New(&fakeFraud{}, attempts, &fakeRecorder{})

	input := Input{Mobile: "+15551234567", Body: "ONBOARD:" + testToken}
	out := p.Validate(input, allEnabled())

	assert.False(t, out.Passed)
	assert.Equal(t, "foreign_number", out.FailedCheck)
	assert.Equal(t, "country code not supported", out.Reason)
}

func TestValidateAllowedCountries(t *testing.T) {
	cfg := allEnabled()
	cfg.AllowedCountries = []string{"+1"}

	attempts := &fakeAttempts{attempts: map[string]*model.OnboardingAttempt{
		testToken: {Mobile: "+15551234567", Hash: testToken},
	}}
	p := New(&fakeFraud{}, attempts, &fakeRecorder{})

	out := p.Validate(Input{Mobile: "+15551234567", Body: "ONBOARD:" + testToken}, cfg)
	assert.True(t, out.Passed)
}

func TestValidateCountExceeded(t *testing.T) {
	p := New(&fakeFraud{count: 3}, liveAttempts(), &fakeRecorder{})

	out := p.Validate(validInput(), allEnabled())
	assert.False(t, out.Passed)
	assert.Equal(t, "count", out.FailedCheck)
}

func TestValidateBlacklisted(t *testing.T) {
	p := New(&fakeFraud{blacklist: true}, liveAttempts(), &fakeRecorder{})

	out := p.Validate(validInput(), allEnabled())
	assert.False(t, out.Passed)
	assert.Equal(t, "blacklist", out.FailedCheck)
}

func TestValidateDuplicate(t *testing.T) {
	fraud := &fakeFraud{validated: map[string]bool{testMobile + ":" + testDevice: true}}
	p := New(fraud, liveAttempts(), &fakeRecorder{})

	out := p.Validate(validInput(), allEnabled())
	assert.False(t, out.Passed)
	assert.Equal(t, "duplicate", out.FailedCheck)
}

func TestValidateDuplicateOtherDevicePasses(t *testing.T) {
	// Same mobile, different device: the composite key keeps them apart.
	fraud := &fakeFraud{validated: map[string]bool{testMobile + ":other-device": true}}
	p := New(fraud, liveAttempts(), &fakeRecorder{})

	out := p.Validate(validInput(), allEnabled())
	assert.True(t, out.Passed)
}

func TestCountStoreErrorFailsClosed(t *testing.T) {
	rec := &fakeRecorder{}
	p := New(&fakeFraud{countErr: errors.New("redis down")}, liveAttempts(), rec)

	out := p.Validate(validInput(), allEnabled())
	assert.False(t, out.Passed)
	assert.Equal(t, "count", out.FailedCheck)
	assert.Equal(t, "store unavailable", out.Reason)
}

func TestBlacklistStoreErrorFailsClosed(t *testing.T) {
	p := New(&fakeFraud{blErr: errors.New("redis down")}, liveAttempts(), &fakeRecorder{})

	out := p.Validate(validInput(), allEnabled())
	assert.False(t, out.Passed)
	assert.Equal(t, "blacklist", out.FailedCheck)
}

func TestDuplicateStoreErrorFailsOpen(t *testing.T) {
	rec := &fakeRecorder{}
	p := New(&fakeFraud{valErr: errors.New("redis down")}, liveAttempts(), rec)

	out := p.Validate(validInput(), allEnabled())
	assert.True(t, out.Passed, "duplicate check must fail open on store errors")

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, "duplicate", last.check)
	assert.Equal(t, model.StatusPass, last.status)
}

func TestDisabledChecksRecordAndPass(t *testing.T) {
	rec := &fakeRecorder{}
	fraud := &fakeFraud{blacklist: true} // would fail if executed
	p := New(fraud, liveAttempts(), rec)

	cfg := allEnabled()
	cfg.Checks.BlacklistEnabled = false

	out := p.Validate(validInput(), cfg)
	require.True(t, out.Passed)

	var blStatus model.CheckStatus
	for _, e := range rec.events {
		if e.check == "blacklist" {
			blStatus = e.status
		}
	}
	assert.Equal(t, model.StatusDisabled, blStatus)
}

func TestDisabledHeaderCheckResolvesNoAttempt(t *testing.T) {
	p := New(&fakeFraud{}, liveAttempts(), &fakeRecorder{})

	cfg := allEnabled()
	cfg.Checks.HeaderHashEnabled = false

	out := p.Validate(validInput(), cfg)
	require.True(t, out.Passed)
	assert.Nil(t, out.Attempt)
}
