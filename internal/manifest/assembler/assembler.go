// Package assembler renders a manifest draft into the canonical serialized
// form the signature is computed over. The rendering is deterministic: element
// order is fixed by struct layout, no whitespace is emitted, and the emission
// timestamp comes from the draft, so two calls with identical logical content
// produce byte-identical output.
package assembler

import (
	"encoding/xml"
	"fmt"
	"strings"

	"manifest-gateway/internal/accesskey"
	"manifest-gateway/internal/manifest"
	dErrors "manifest-gateway/pkg/domain-errors"
)

const namespace = "http://www.portalfiscal.inf.br/mdfe"

// Assembler renders manifests and lifecycle events for a fixed layout version
// and authority environment (1 production, 2 homologation).
type Assembler struct {
	version     string
	environment int
}

func New(version string, environment int) *Assembler {
	return &Assembler{version: version, environment: environment}
}

// Version is the layout version stamped into every canonical form.
func (a *Assembler) Version() string { return a.version }

type manifestXML struct {
	XMLName xml.Name    `xml:"MDFe"`
	Xmlns   string      `xml:"xmlns,attr"`
	Inf     infManifest `xml:"infMDFe"`
}

type infManifest struct {
	ID      string `xml:"Id,attr"`
	Version string `xml:"versao,attr"`
	Ide     ide    `xml:"ide"`
	Emit    emit   `xml:"emit"`
	Modal   modal  `xml:"infModal"`
	Docs    docs   `xml:"infDoc"`
	Totals  totals `xml:"tot"`
}

type ide struct {
	RegionCode    int    `xml:"cUF"`
	Environment   int    `xml:"tpAmb"`
	EmittedAt     string `xml:"dhEmi"`
	OriginUF      string `xml:"UFIni"`
	DestinationUF string `xml:"UFFim"`
}

type emit struct {
	TaxID string `xml:"CNPJ"`
	Name  string `xml:"xNome"`
}

type modal struct {
	Road road `xml:"rodo"`
}

type road struct {
	Vehicle vehicle  `xml:"veicTracao"`
	Drivers []driver `xml:"condutor"`
}

type vehicle struct {
	Plate string `xml:"placa"`
}

type driver struct {
	Name string `xml:"xNome"`
	CPF  string `xml:"CPF"`
}

type docs struct {
	Linked []linkedDoc `xml:"infNFe"`
}

type linkedDoc struct {
	Key string `xml:"chNFe"`
}

type totals struct {
	DocumentCount int    `xml:"qNFe"`
	CargoValue    string `xml:"vCarga"`
	CargoUnit     string `xml:"cUnid"`
	CargoQuantity string `xml:"qCarga"`
}

// Assemble renders the draft with the assigned access key into the canonical
// byte sequence. The caller signs exactly these bytes; the authority
// re-derives the same form to verify.
func (a *Assembler) Assemble(draft manifest.Draft, key accesskey.Key) ([]byte, error) {
	if err := a.validate(draft); err != nil {
		return nil, err
	}
	regionCode, _ := manifest.RegionCode(draft.OriginUF)

	linked := make([]linkedDoc, 0, len(draft.FiscalDocumentKeys))
	for _, docKey := range draft.FiscalDocumentKeys {
		linked = append(linked, linkedDoc{Key: docKey})
	}
	drivers := make([]driver, 0, len(draft.Drivers))
	for _, d := range draft.Drivers {
		drivers = append(drivers, driver{Name: d.Name, CPF: d.CPF})
	}

	doc := manifestXML{
		Xmlns: namespace,
		Inf: infManifest{
			ID:      "MDFe" + string(key),
			Version: a.version,
			Ide: ide{
				RegionCode:    regionCode,
				Environment:   a.environment,
				EmittedAt:     draft.EmittedAt.UTC().Format("2006-01-02T15:04:05Z"),
				OriginUF:      draft.OriginUF,
				DestinationUF: draft.DestinationUF,
			},
			Emit: emit{TaxID: draft.IssuerTaxID, Name: draft.IssuerName},
			Modal: modal{Road: road{
				Vehicle: vehicle{Plate: draft.VehiclePlate},
				Drivers: drivers,
			}},
			Docs: docs{Linked: linked},
			Totals: totals{
				DocumentCount: len(linked),
				CargoValue:    draft.CargoValue,
				CargoUnit:     draft.CargoUnit,
				CargoQuantity: draft.CargoQuantity,
			},
		},
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAssembly, "marshal canonical form")
	}
	return out, nil
}

func (a *Assembler) validate(draft manifest.Draft) error {
	var missing []string
	if draft.IssuerTaxID == "" {
		missing = append(missing, "issuer tax id")
	}
	if _, ok := manifest.RegionCode(draft.OriginUF); !ok {
		missing = append(missing, "origin UF")
	}
	if _, ok := manifest.RegionCode(draft.DestinationUF); !ok {
		missing = append(missing, "destination UF")
	}
	if len(draft.FiscalDocumentKeys) == 0 {
		missing = append(missing, "at least one linked fiscal document")
	}
	if draft.VehiclePlate == "" {
		missing = append(missing, "vehicle plate")
	}
	if draft.EmittedAt.IsZero() {
		missing = append(missing, "emission timestamp")
	}
	if len(missing) > 0 {
		return dErrors.Newf(dErrors.CodeAssembly, "draft missing required fields: %s", strings.Join(missing, ", "))
	}
	for _, docKey := range draft.FiscalDocumentKeys {
		if !accesskey.Validate(docKey) {
			return dErrors.Newf(dErrors.CodeAssembly, "linked fiscal document key %q fails checksum validation", docKey)
		}
	}
	return nil
}

// ExtractSummary parses issuer, key and totals back out of a canonical form
// for display and audit, without re-running full validation.
func ExtractSummary(form []byte) (manifest.Summary, error) {
	var doc manifestXML
	if err := xml.Unmarshal(form, &doc); err != nil {
		return manifest.Summary{}, dErrors.Wrap(err, dErrors.CodeAssembly, "parse canonical form")
	}
	return manifest.Summary{
		AccessKey:     strings.TrimPrefix(doc.Inf.ID, "MDFe"),
		IssuerTaxID:   doc.Inf.Emit.TaxID,
		IssuerName:    doc.Inf.Emit.Name,
		OriginUF:      doc.Inf.Ide.OriginUF,
		DestinationUF: doc.Inf.Ide.DestinationUF,
		CargoValue:    doc.Inf.Totals.CargoValue,
		DocumentCount: doc.Inf.Totals.DocumentCount,
	}, nil
}

type eventXML struct {
	XMLName xml.Name `xml:"eventoMDFe"`
	Xmlns   string   `xml:"xmlns,attr"`
	Inf     infEvent `xml:"infEvento"`
}

type infEvent struct {
	ID          string      `xml:"Id,attr"`
	RegionCode  int         `xml:"cOrgao"`
	Environment int         `xml:"tpAmb"`
	AccessKey   string      `xml:"chMDFe"`
	OccurredAt  string      `xml:"dhEvento"`
	TypeCode    string      `xml:"tpEvento"`
	Sequence    int         `xml:"nSeqEvento"`
	Detail      eventDetail `xml:"detEvento"`
}

type eventDetail struct {
	Version      string        `xml:"versaoEvento,attr"`
	Cancellation *cancellation `xml:"evCancMDFe"`
	Closure      *closure      `xml:"evEncMDFe"`
}

type cancellation struct {
	Description   string `xml:"descEvento"`
	Protocol      string `xml:"nProt"`
	Justification string `xml:"xJust"`
}

type closure struct {
	Description string `xml:"descEvento"`
	Protocol    string `xml:"nProt"`
	ClosedOn    string `xml:"dtEnc"`
	RegionCode  int    `xml:"cUF"`
	CityCode    string `xml:"cMun"`
}

// AssembleEvent renders a lifecycle event into its canonical form.
// manifestProtocol is the authorization protocol of the manifest the event
// amends. The event timestamp comes from the event record, keeping the output
// deterministic for retries.
func (a *Assembler) AssembleEvent(ev manifest.LifecycleEvent, manifestProtocol string) ([]byte, error) {
	if ev.Type.WireCode() == "" {
		return nil, dErrors.Newf(dErrors.CodeAssembly, "unknown event type %q", ev.Type)
	}
	if ev.Sequence < 1 {
		return nil, dErrors.Newf(dErrors.CodeAssembly, "event sequence must start at 1, got %d", ev.Sequence)
	}
	regionCode := 0
	if code, err := regionOfKey(ev.AccessKey); err == nil {
		regionCode = code
	}

	detail := eventDetail{Version: a.version}
	switch ev.Type {
	case manifest.EventCancellation:
		detail.Cancellation = &cancellation{
			Description:   "Cancelamento",
			Protocol:      manifestProtocol,
			Justification: ev.Justification,
		}
	case manifest.EventClosure:
		// cUF carries the numeric IBGE code, not the UF letters.
		ufCode, ok := manifest.RegionCode(ev.ClosureUF)
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeAssembly, "closure UF %q has no region code", ev.ClosureUF)
		}
		detail.Closure = &closure{
			Description: "Encerramento",
			Protocol:    manifestProtocol,
			ClosedOn:    ev.CreatedAt.UTC().Format("2006-01-02"),
			RegionCode:  ufCode,
			CityCode:    ev.ClosureCityCode,
		}
	}

	doc := eventXML{
		Xmlns: namespace,
		Inf: infEvent{
			ID:          fmt.Sprintf("ID%s%s%02d", ev.Type.WireCode(), ev.AccessKey, ev.Sequence),
			RegionCode:  regionCode,
			Environment: a.environment,
			AccessKey:   string(ev.AccessKey),
			OccurredAt:  ev.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			TypeCode:    ev.Type.WireCode(),
			Sequence:    ev.Sequence,
			Detail:      detail,
		},
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAssembly, "marshal event form")
	}
	return out, nil
}

func regionOfKey(key accesskey.Key) (int, error) {
	if len(key) < 2 {
		return 0, dErrors.New(dErrors.CodeInvalidField, "access key too short")
	}
	var code int
	_, err := fmt.Sscanf(string(key[:2]), "%d", &code)
	return code, err
}
