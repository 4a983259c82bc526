package domain

// PanelSlot identifies one of the 13 canonical cGAS-STING pathway genes
// tracked for every patient.
type PanelSlot int

const (
	SlotCGAS PanelSlot = iota
	SlotCCL5
	SlotCXCL10
	SlotSTING
	SlotCXCL9
	SlotCXCL11
	SlotNFKB1
	SlotIKBKE
	SlotIRF3
	SlotTREX1
	SlotATM
	SlotIL6
	SlotIL8

	panelSlotCount
)

// PanelSize is the number of canonical slots in a GenePanel.
const PanelSize = int(panelSlotCount)

var panelSlotNames = [panelSlotCount]string{
	SlotCGAS:   "C6orf150_cGAS",
	SlotCCL5:   "CCL5",
	SlotCXCL10: "CXCL10",
	SlotSTING:  "TMEM173_STING",
	SlotCXCL9:  "CXCL9",
	SlotCXCL11: "CXCL11",
	SlotNFKB1:  "NFKB1",
	SlotIKBKE:  "IKBKE",
	SlotIRF3:   "IRF3",
	SlotTREX1:  "TREX1",
	SlotATM:    "ATM",
	SlotIL6:    "IL6",
	SlotIL8:    "IL8_CXCL8",
}

// String returns the stored field name of the slot.
func (s PanelSlot) String() string {
	if s < 0 || s >= panelSlotCount {
		return "unknown"
	}
	return panelSlotNames[s]
}

// IsValid reports whether s is a canonical slot.
func (s PanelSlot) IsValid() bool {
	return s >= 0 && s < panelSlotCount
}

// ParsePanelSlot resolves a stored slot name or any alias to its slot.
func ParsePanelSlot(name string) (PanelSlot, bool) {
	for i, n := range panelSlotNames {
		if n == name {
			return PanelSlot(i), true
		}
	}
	for _, a := range PanelAliases {
		if a.Alias == name {
			return a.Slot, true
		}
	}
	return 0, false
}

// AllSlots returns the canonical slots in declaration order.
func AllSlots() []PanelSlot {
	slots := make([]PanelSlot, 0, PanelSize)
	for s := PanelSlot(0); s < panelSlotCount; s++ {
		slots = append(slots, s)
	}
	return slots
}

// PanelAlias maps a gene name as it appears in source files to a panel slot.
type PanelAlias struct {
	Alias string
	Slot  PanelSlot
}

// PanelAliases is the exhaustive alias table. Order matters: when a patient
// carries several aliases of the same slot, the later entry wins.
var PanelAliases = []PanelAlias{
	{"C6orf150", SlotCGAS},
	{"cGAS", SlotCGAS},
	{"CCL5", SlotCCL5},
	{"CXCL10", SlotCXCL10},
	{"TMEM173", SlotSTING},
	{"STING", SlotSTING},
	{"CXCL9", SlotCXCL9},
	{"CXCL11", SlotCXCL11},
	{"NFKB1", SlotNFKB1},
	{"IKBKE", SlotIKBKE},
	{"IRF3", SlotIRF3},
	{"TREX1", SlotTREX1},
	{"ATM", SlotATM},
	{"IL6", SlotIL6},
	{"IL8", SlotIL8},
	{"CXCL8", SlotIL8},
}

// PanelGeneNames returns every recognised alias in table order.
func PanelGeneNames() []string {
	names := make([]string, len(PanelAliases))
	for i, a := range PanelAliases {
		names[i] = a.Alias
	}
	return names
}

// GenePanel holds the canonical panel values for one patient. A zero value
// means the gene was absent from the source row; NaN means it was present
// but unparsable.
type GenePanel struct {
	CGAS   float64 `json:"C6orf150_cGAS"`
	CCL5   float64 `json:"CCL5"`
	CXCL10 float64 `json:"CXCL10"`
	STING  float64 `json:"TMEM173_STING"`
	CXCL9  float64 `json:"CXCL9"`
	CXCL11 float64 `json:"CXCL11"`
	NFKB1  float64 `json:"NFKB1"`
	IKBKE  float64 `json:"IKBKE"`
	IRF3   float64 `json:"IRF3"`
	TREX1  float64 `json:"TREX1"`
	ATM    float64 `json:"ATM"`
	IL6    float64 `json:"IL6"`
	IL8    float64 `json:"IL8_CXCL8"`
}

// Set assigns v to slot. Unknown slots are ignored.
func (p *GenePanel) Set(slot PanelSlot, v float64) {
	switch slot {
	case SlotCGAS:
		p.CGAS = v
	case SlotCCL5:
		p.CCL5 = v
	case SlotCXCL10:
		p.CXCL10 = v
	case SlotSTING:
		p.STING = v
	case SlotCXCL9:
		p.CXCL9 = v
	case SlotCXCL11:
		p.CXCL11 = v
	case SlotNFKB1:
		p.NFKB1 = v
	case SlotIKBKE:
		p.IKBKE = v
	case SlotIRF3:
		p.IRF3 = v
	case SlotTREX1:
		p.TREX1 = v
	case SlotATM:
		p.ATM = v
	case SlotIL6:
		p.IL6 = v
	case SlotIL8:
		p.IL8 = v
	}
}

// Get returns the value stored in slot.
func (p GenePanel) Get(slot PanelSlot) float64 {
	switch slot {
	case SlotCGAS:
		return p.CGAS
	case SlotCCL5:
		return p.CCL5
	case SlotCXCL10:
		return p.CXCL10
	case SlotSTING:
		return p.STING
	case SlotCXCL9:
		return p.CXCL9
	case SlotCXCL11:
		return p.CXCL11
	case SlotNFKB1:
		return p.NFKB1
	case SlotIKBKE:
		return p.IKBKE
	case SlotIRF3:
		return p.IRF3
	case SlotTREX1:
		return p.TREX1
	case SlotATM:
		return p.ATM
	case SlotIL6:
		return p.IL6
	case SlotIL8:
		return p.IL8
	default:
		return 0
	}
}

// Values returns the panel as slot name -> value, for storage drivers that
// persist it as a document.
func (p GenePanel) Values() map[string]float64 {
	out := make(map[string]float64, PanelSize)
	for _, s := range AllSlots() {
		out[s.String()] = p.Get(s)
	}
	return out
}

// PanelFromValues rebuilds a panel from a slot name -> value document.
// Unknown keys are ignored.
func PanelFromValues(values map[string]float64) GenePanel {
	var p GenePanel
	for name, v := range values {
		if slot, ok := ParsePanelSlot(name); ok {
			p.Set(slot, v)
		}
	}
	return p
}

// ExtractPanel copies every aliased panel gene present in expressions into
// its canonical slot. It never fails: a patient without any panel gene
// yields an all-zero panel.
func ExtractPanel(expressions map[string]float64) GenePanel {
	var p GenePanel
	for _, a := range PanelAliases {
		if v, ok := expressions[a.Alias]; ok {
			p.Set(a.Slot, v)
		}
	}
	return p
}
