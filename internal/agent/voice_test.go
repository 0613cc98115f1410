package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVoiceCommandLockByID(t *testing.T) {
	cmd := ParseVoiceCommand("Lock user 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed")

	assert.Equal(t, ActionLock, cmd.Action)
	assert.Equal(t, "1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed", cmd.UserID)
	assert.Empty(t, cmd.UserName)
}

func TestParseVoiceCommandLockByName(t *testing.T) {
	cmd := ParseVoiceCommand("lock dr smith immediately")
	assert.Equal(t, ActionLock, cmd.Action)
	assert.Equal(t, "smith", cmd.UserName)

	cmd = ParseVoiceCommand("please lock mike")
	assert.Equal(t, ActionLock, cmd.Action)
	assert.Equal(t, "mike", cmd.UserName)
}

func TestParseVoiceCommandLockWithoutTarget(t *testing.T) {
	cmd := ParseVoiceCommand("lock user")

	assert.Equal(t, ActionLock, cmd.Action)
	assert.Empty(t, cmd.UserID)
	assert.Empty(t, cmd.UserName)
}

func TestParseVoiceCommandScanWard(t *testing.T) {
	cmd := ParseVoiceCommand("scan ward icu for anything unusual")

	assert.Equal(t, ActionScan, cmd.Action)
	assert.Equal(t, "icu", cmd.Ward)
	assert.Empty(t, cmd.UserName)
}

func TestParseVoiceCommandScanDoctor(t *testing.T) {
	cmd := ParseVoiceCommand("check on dr. patel")

	assert.Equal(t, ActionScan, cmd.Action)
	assert.Equal(t, "patel", cmd.UserName)
}

func TestParseVoiceCommandScanWardAndDoctor(t *testing.T) {
	cmd := ParseVoiceCommand("scan ward 3b activity by doctor verma")

	assert.Equal(t, ActionScan, cmd.Action)
	assert.Equal(t, "3b", cmd.Ward)
	assert.Equal(t, "verma", cmd.UserName)
}

func TestParseVoiceCommandUnknownPhrasing(t *testing.T) {
	cmd := ParseVoiceCommand("run a full sweep please")

	assert.Equal(t, ActionScan, cmd.Action)
	assert.Empty(t, cmd.Ward)
	assert.Empty(t, cmd.UserName)
	assert.Empty(t, cmd.UserID)
}
