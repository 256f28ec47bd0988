package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"lumipos/backend/internal/domain"
)

type directoryStub struct {
	mu       sync.Mutex
	accounts []domain.UserAccount
	rewrites map[string]string
}

func (d *directoryStub) ListUsers(context.Context) ([]domain.UserAccount, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.UserAccount, len(d.accounts))
	copy(out, d.accounts)
	return out, nil
}

func (d *directoryStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rewrites == nil {
		d.rewrites = map[string]string{}
	}
	d.rewrites[username] = password
	for i := range d.accounts {
		if d.accounts[i].Username == username {
			d.accounts[i].Password = password
		}
	}
	return nil
}

func TestLoginUpgradesPlaintextPassword(t *testing.T) {
	dir := &directoryStub{accounts: []domain.UserAccount{
		{Username: "till1", Password: "letmein1", Role: "cashier", Active: true},
	}}
	auth := NewAuthManager("test-secret", time.Hour, "739154", dir)

	resp, err := auth.Login(domain.LoginRequest{Username: "till1", Password: "letmein1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected a token")
	}

	dir.mu.Lock()
	stored := dir.rewrites["till1"]
	dir.mu.Unlock()
	if !strings.HasPrefix(stored, "$2") {
		t.Fatalf("password not upgraded to bcrypt, stored %q", stored)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored), []byte("letmein1")) != nil {
		t.Fatal("upgraded hash does not verify the original password")
	}
}

func TestTokenCarriesRegisterGrants(t *testing.T) {
	dir := &directoryStub{accounts: []domain.UserAccount{
		{Username: "till1", Password: "letmein1", Role: "cashier", Active: true},
		{Username: "boss", Password: "adminpass", Role: "admin", Active: true},
	}}
	auth := NewAuthManager("test-secret", time.Hour, "739154", dir)

	resp, err := auth.Login(domain.LoginRequest{Username: "till1", Password: "letmein1"})
	if err != nil {
		t.Fatalf("cashier login: %v", err)
	}
	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse cashier token: %v", err)
	}
	if len(actor.Registers) != 2 || actor.Registers[0] != "pos" || actor.Registers[1] != "edit_sale" {
		t.Fatalf("cashier grants = %v, want [pos edit_sale]", actor.Registers)
	}
	if actorOperatesRegister(actor, "purchase_order") {
		t.Fatal("cashier token must not reach the purchase order register")
	}

	resp, err = auth.Login(domain.LoginRequest{Username: "boss", Password: "adminpass"})
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	actor, err = auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse admin token: %v", err)
	}
	if !actorOperatesRegister(actor, "sales_return") {
		t.Fatalf("admin grants = %v, want every register", actor.Registers)
	}
}

func TestInactiveAccountCannotLogin(t *testing.T) {
	dir := &directoryStub{accounts: []domain.UserAccount{
		{Username: "till2", Password: "letmein1", Role: "cashier", Active: false},
	}}
	auth := NewAuthManager("test-secret", time.Hour, "739154", dir)

	if _, err := auth.Login(domain.LoginRequest{Username: "till2", Password: "letmein1"}); err == nil {
		t.Fatal("inactive account should not receive a token")
	}
}

func TestManagerPINHashedAndVerifies(t *testing.T) {
	auth := NewAuthManager("test-secret", time.Hour, "654321", nil)

	if auth.pinHash == "654321" {
		t.Fatal("PIN stored in the clear")
	}
	if !auth.ValidateManagerPIN(" 654321 ") {
		t.Fatal("correct PIN rejected (whitespace should be tolerated)")
	}
	if auth.ValidateManagerPIN("111111") {
		t.Fatal("wrong PIN accepted")
	}
	if auth.ValidateManagerPIN("") {
		t.Fatal("empty PIN accepted")
	}
}

func TestUnsetManagerPINDisablesPosting(t *testing.T) {
	auth := NewAuthManager("test-secret", time.Hour, "", nil)

	if auth.ValidateManagerPIN("anything") {
		t.Fatal("posting should be disabled when no PIN is configured")
	}
}

func TestParseTokenRejectsForeignSignature(t *testing.T) {
	dir := &directoryStub{accounts: []domain.UserAccount{
		{Username: "till1", Password: "letmein1", Role: "cashier", Active: true},
	}}
	issuer := NewAuthManager("secret-one", time.Hour, "739154", dir)
	resp, err := issuer.Login(domain.LoginRequest{Username: "till1", Password: "letmein1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	other := NewAuthManager("secret-two", time.Hour, "739154", dir)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("token signed with a different secret should be rejected")
	}
}
