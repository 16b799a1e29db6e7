package integration

import (
	"net/http"
	"sync"
	"testing"

	"github.com/aferconlda/aferconpay1/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
)

// Two cashiers race to accept the same pending exchange. The row lock
// serializes them; exactly one wins and the loser sees the request
// already in processing.
func TestConcurrentExchangeAccept(t *testing.T) {
	env, ctx := setupEnv(t)

	client := env.createAccount(t, ctx, "customer")
	cashierA := env.createAccount(t, ctx, "cashier")
	cashierB := env.createAccount(t, ctx, "cashier")
	env.fund(t, ctx, client.ID, "balance", "60000")

	w := env.do(t, http.MethodPost, "/v1/exchanges", map[string]string{
		"amount":          "50000",
		"target_currency": "USD",
		"payment_details": "IBAN AO06 0000 0000 0000 0000 0000 0",
	}, bearer(env.token(t, client)))
	if w.Code != http.StatusCreated {
		t.Fatalf("create exchange: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	exchange, _ := decodeBody(t, w)["exchange"].(map[string]any)
	id, _ := exchange["id"].(string)

	tokens := []string{env.token(t, cashierA), env.token(t, cashierB)}
	codes := make([]int, len(tokens))

	var wg sync.WaitGroup
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			resp := env.do(t, http.MethodPost, "/v1/exchanges/"+id+"/accept", nil, bearer(tok))
			codes[i] = resp.Code
		}(i, tok)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			wins++
		case http.StatusUnprocessableEntity:
			losses++
		default:
			t.Fatalf("unexpected status %d", code)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected one winner and one loser, got codes %v", codes)
	}
}

// Concurrent transfers drain a shared balance. However the requests
// interleave, the books must balance: no money created or destroyed,
// no overdraft.
func TestConcurrentTransfersConserveFunds(t *testing.T) {
	env, ctx := setupEnv(t)

	sender := env.createAccount(t, ctx, "customer")
	recipient := env.createAccount(t, ctx, "customer")
	env.fund(t, ctx, sender.ID, "balance", "90")

	token := env.token(t, sender)
	const attempts = 4
	codes := make([]int, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := env.do(t, http.MethodPost, "/v1/transfers", map[string]string{
				"recipient_id": recipient.ID.String(),
				"amount":       "30",
			}, bearer(token))
			codes[i] = resp.Code
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, code := range codes {
		if code == http.StatusOK {
			succeeded++
		}
	}
	if succeeded == 0 {
		t.Fatalf("no transfer succeeded: %v", codes)
	}

	senderWallet, err := env.store.GetWallet(ctx, sender.ID, storage.DefaultCurrency)
	if err != nil {
		t.Fatalf("get sender wallet: %v", err)
	}
	recipientWallet, err := env.store.GetWallet(ctx, recipient.ID, storage.DefaultCurrency)
	if err != nil {
		t.Fatalf("get recipient wallet: %v", err)
	}

	total := senderWallet.Balance.Add(recipientWallet.Balance)
	if !total.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("funds not conserved: sender %s recipient %s", senderWallet.Balance, recipientWallet.Balance)
	}
	if senderWallet.Balance.IsNegative() {
		t.Fatalf("sender overdrawn: %s", senderWallet.Balance)
	}
	expected := decimal.NewFromInt(int64(30 * succeeded))
	if !recipientWallet.Balance.Equal(expected) {
		t.Fatalf("recipient balance %s does not match %d successful transfers", recipientWallet.Balance, succeeded)
	}
}

// Two customers race to pay the same QR intent. The intent can only
// be consumed once.
func TestConcurrentQRPaySingleWinner(t *testing.T) {
	env, ctx := setupEnv(t)

	merchant := env.createAccount(t, ctx, "merchant")
	payerA := env.createAccount(t, ctx, "customer")
	payerB := env.createAccount(t, ctx, "customer")
	env.fund(t, ctx, payerA.ID, "balance", "500")
	env.fund(t, ctx, payerB.ID, "balance", "500")

	w := env.do(t, http.MethodPost, "/v1/apikeys", map[string]string{"label": "pos"}, bearer(env.token(t, merchant)))
	if w.Code != http.StatusCreated {
		t.Fatalf("create api key: expected 201, got %d", w.Code)
	}
	key, _ := decodeBody(t, w)["key"].(string)

	w = env.do(t, http.MethodPost, "/v1/qr/intents", map[string]string{"amount": "200.00"}, map[string]string{"X-Api-Key": key})
	if w.Code != http.StatusCreated {
		t.Fatalf("create intent: expected 201, got %d", w.Code)
	}
	intentID, _ := decodeBody(t, w)["intent_id"].(string)

	tokens := []string{env.token(t, payerA), env.token(t, payerB)}
	codes := make([]int, len(tokens))

	var wg sync.WaitGroup
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			resp := env.do(t, http.MethodPost, "/v1/qr/pay", map[string]string{"intent_id": intentID}, bearer(tok))
			codes[i] = resp.Code
		}(i, tok)
	}
	wg.Wait()

	wins := 0
	for _, code := range codes {
		if code == http.StatusOK {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful payment, got codes %v", codes)
	}

	merchantWallet, err := env.store.GetWallet(ctx, merchant.ID, storage.DefaultCurrency)
	if err != nil {
		t.Fatalf("get merchant wallet: %v", err)
	}
	if !merchantWallet.Balance.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected merchant balance: %s", merchantWallet.Balance)
	}
}
