package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
)

// AnyUser is the purchases file key whose transactions apply to every app user.
const AnyUser = "*"

// FileClient serves purchases from a JSON or YAML document shaped as
// {"<appUserID>": [transaction, ...]}. The file is re-read on every query so an external
// process can update it.
type FileClient struct {
	path string
}

// NewFileClient creates a client reading path.
func NewFileClient(path string) *FileClient {
	return &FileClient{path: path}
}

// QueryActivePurchases implements Client.
func (f *FileClient) QueryActivePurchases(ctx context.Context, appUserID string) (map[string]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Transaction{}, nil
		}
		return nil, fmt.Errorf("failed to read purchases file: %w", err)
	}

	doc, err := parsePurchases(data)
	if err != nil {
		return nil, err
	}

	txs := append([]Transaction{}, doc[AnyUser]...)
	txs = append(txs, doc[appUserID]...)
	return Index(txs), nil
}

func parsePurchases(data []byte) (map[string][]Transaction, error) {
	var doc map[string][]Transaction
	if err := json.Unmarshal(data, &doc); err == nil {
		return doc, nil
	}
	var raw map[string][]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: purchases file: %v", apperrors.ErrInvalidJSON, err)
	}
	// Round-trip through JSON so both formats share the struct tags.
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: purchases file: %v", apperrors.ErrInvalidJSON, err)
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: purchases file: %v", apperrors.ErrInvalidJSON, err)
	}
	return doc, nil
}

// StaticClient serves a fixed set of transactions. Err, when set, is returned instead.
type StaticClient struct {
	Transactions map[string][]Transaction
	Err          error
}

// QueryActivePurchases implements Client.
func (s *StaticClient) QueryActivePurchases(_ context.Context, appUserID string) (map[string]Transaction, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return Index(s.Transactions[appUserID]), nil
}
