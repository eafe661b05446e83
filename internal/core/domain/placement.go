package domain

import (
	"fmt"
	"strings"
)

type PlacementStatus string

const (
	PlacementPlaced   PlacementStatus = "placed"
	PlacementRejected PlacementStatus = "rejected"
	PlacementDegraded PlacementStatus = "degraded"
)

type RejectionReason string

const (
	ReasonInvalidRequest     RejectionReason = "InvalidRequest"
	ReasonCatalogUnavailable RejectionReason = "CatalogUnavailable"
	ReasonMissingProducts    RejectionReason = "MissingProducts"
	ReasonInsufficientStock  RejectionReason = "InsufficientStock"
	ReasonSkuNotFound        RejectionReason = "SkuNotFound"
	ReasonDuplicateRequest   RejectionReason = "DuplicateRequest"
)

// PlacementResult is the outcome of one placement attempt. Business
// rejections and degraded fallbacks are values, not errors.
type PlacementResult struct {
	Status      PlacementStatus
	Reason      RejectionReason
	Message     string
	Order       Order
	MissingSKUs []string
	Replayed    bool
}

func Placed(o Order) PlacementResult {
	return PlacementResult{
		Status:  PlacementPlaced,
		Order:   o,
		Message: fmt.Sprintf("Order [%s] placed successfully. Total amount to pay: %s", o.Number, o.TotalPrice.StringFixed(2)),
	}
}

func Rejected(reason RejectionReason, message string) PlacementResult {
	return PlacementResult{Status: PlacementRejected, Reason: reason, Message: message}
}

func RejectedMissing(skus []string) PlacementResult {
	r := Rejected(ReasonMissingProducts, "Missing products: ["+strings.Join(skus, ", ")+"]")
	r.MissingSKUs = skus
	return r
}

func Degraded(message string) PlacementResult {
	return PlacementResult{Status: PlacementDegraded, Message: message}
}

// Retryable tells the caller whether the failure came from infrastructure
// rather than a business rule.
func (r PlacementResult) Retryable() bool {
	return r.Status == PlacementDegraded ||
		(r.Status == PlacementRejected && (r.Reason == ReasonCatalogUnavailable || r.Reason == ReasonDuplicateRequest))
}
