package shared

import "fmt"

// ValuationCacheKey builds redis keys for cached asset valuations.
func ValuationCacheKey(assetID int64) string {
	return fmt.Sprintf("assets:%d:valuation", assetID)
}

// CorrectionKey builds the idempotency key guarding a discrepancy's corrective mutation.
func CorrectionKey(discrepancyID int64) string {
	return fmt.Sprintf("discrepancy:%d:correction", discrepancyID)
}

// ValuationGenerationKey builds the redis key holding an asset's valuation generation.
// Every invalidation bumps it; cache writes that started under an older generation are dropped.
func ValuationGenerationKey(assetID int64) string {
	return fmt.Sprintf("assets:%d:valuation:gen", assetID)
}
