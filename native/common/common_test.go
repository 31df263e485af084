package common

import (
	"errors"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func TestGuard(t *testing.T) {
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("nil view must not pause: %v", err)
	}
	pauses := NewPauses()
	if err := Guard(pauses, "lending"); err != nil {
		t.Fatalf("unexpected pause: %v", err)
	}
	pauses.Set("lending", true)
	if err := Guard(pauses, "lending"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, ""); err != nil {
		t.Fatalf("empty module must not pause: %v", err)
	}
	pauses.Set("lending", false)
	if err := Guard(pauses, "lending"); err != nil {
		t.Fatalf("unexpected pause after resume: %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	admin := ethcommon.HexToAddress("0x01")
	operator := ethcommon.HexToAddress("0x02")
	stranger := ethcommon.HexToAddress("0x03")

	if err := Authorize(nil, stranger, "hub.addAsset"); err != nil {
		t.Fatalf("nil authorizer must permit: %v", err)
	}

	roles := NewRoleTable()
	roles.Grant(admin, Wildcard)
	roles.Grant(operator, "hub.addSpoke", "spoke.addReserve")

	if err := Authorize(roles, admin, "hub.addAsset"); err != nil {
		t.Fatalf("wildcard admin rejected: %v", err)
	}
	if err := Authorize(roles, operator, "hub.addSpoke"); err != nil {
		t.Fatalf("operator rejected: %v", err)
	}
	if err := Authorize(roles, operator, "hub.addAsset"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := Authorize(roles, stranger, "hub.addSpoke"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	roles.Revoke(operator, "hub.addSpoke")
	if err := Authorize(roles, operator, "hub.addSpoke"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("revoked grant still honoured: %v", err)
	}
	if err := Authorize(roles, operator, "spoke.addReserve"); err != nil {
		t.Fatalf("remaining grant lost: %v", err)
	}
}
