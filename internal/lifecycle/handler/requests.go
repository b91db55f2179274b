package handler

import (
	"time"

	"manifest-gateway/internal/manifest"
)

// CreateManifestRequest is the draft submitted by an emitter.
type CreateManifestRequest struct {
	IssuerTaxID        string           `json:"issuer_tax_id"`
	IssuerName         string           `json:"issuer_name"`
	OriginUF           string           `json:"origin_uf"`
	DestinationUF      string           `json:"destination_uf"`
	EmittedAt          time.Time        `json:"emitted_at,omitempty"`
	CargoValue         string           `json:"cargo_value"`
	CargoQuantity      string           `json:"cargo_quantity"`
	CargoUnit          string           `json:"cargo_unit"`
	FiscalDocumentKeys []string         `json:"fiscal_document_keys"`
	VehiclePlate       string           `json:"vehicle_plate"`
	Drivers            []manifest.Driver `json:"drivers"`
}

func (r CreateManifestRequest) draft() manifest.Draft {
	return manifest.Draft{
		IssuerTaxID:        r.IssuerTaxID,
		IssuerName:         r.IssuerName,
		OriginUF:           r.OriginUF,
		DestinationUF:      r.DestinationUF,
		EmittedAt:          r.EmittedAt,
		CargoValue:         r.CargoValue,
		CargoQuantity:      r.CargoQuantity,
		CargoUnit:          r.CargoUnit,
		FiscalDocumentKeys: r.FiscalDocumentKeys,
		VehiclePlate:       r.VehiclePlate,
		Drivers:            r.Drivers,
	}
}

// CloseManifestRequest carries where the transport operation ended.
type CloseManifestRequest struct {
	UF       string `json:"uf"`
	CityCode string `json:"city_code"`
}

// CancelManifestRequest carries the mandatory justification.
type CancelManifestRequest struct {
	Justification string `json:"justification"`
}
