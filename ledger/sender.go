package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSender delivers instructions to the ledger service over HTTP. The
// Idempotency-Key header carries the instruction's natural key so the ledger
// can drop redelivered instructions.
type HTTPSender struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSender(baseURL string) *HTTPSender {
	return &HTTPSender{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type instructionPayload struct {
	ItemID     string `json:"item_id"`
	Action     string `json:"action"`
	Amount     string `json:"amount"`
	Commission string `json:"commission"`
	PayeeID    string `json:"payee_id"`
}

func (s *HTTPSender) Send(ctx context.Context, ins Instruction) error {
	body, err := json.Marshal(instructionPayload{
		ItemID:     ins.ItemID,
		Action:     string(ins.Action),
		Amount:     ins.Amount.String(),
		Commission: ins.Commission.String(),
		PayeeID:    ins.PayeeID,
	})
	if err != nil {
		return fmt.Errorf("ledger: marshal instruction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/instructions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", fmt.Sprintf("%s:%s", ins.ItemID, ins.Action))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: send instruction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("ledger: instruction rejected with status %d", resp.StatusCode)
	}
	return nil
}
