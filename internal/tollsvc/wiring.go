package tollsvc

import (
	"encoding/hex"
	"fmt"

	"github.com/aegisway/tollguard/internal/anchor"
	"go.uber.org/zap"
)

func buildLedgerClient(ledgerDSN string, logger *zap.Logger) anchor.LedgerClient {
	if ledgerDSN == "" {
		logger.Info("no LEDGER_URL set, using null ledger client")
		return anchor.NullLedger{}
	}
	logger.Info("http ledger client configured", zap.String("endpoint", ledgerDSN))
	return anchor.NewHTTPLedger(ledgerDSN)
}

func decodeMasterKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decodeMasterKey: %w", err)
	}
	return key, nil
}
