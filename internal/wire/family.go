package wire

// Tag identifies a SmartPad device family.
type Tag string

const (
	TagSpark     Tag = "spark"
	TagSlate     Tag = "slate"
	TagIntuosPro Tag = "intuos_pro"
)

// Family is the small per-family capability set used in place of
// per-family dispatch. Frame parsing and command encoding (frame.go) and
// the opcodes are shared by all families, so Family carries only the two
// places behavior actually diverges: StartLive and sensor rotation.
type Family struct {
	Tag Tag

	// RotatesSensor resolves spec.md §9's first Open Question: Spark and
	// Slate report coordinates against a sensor rotated 90° CW relative to
	// the case's long edge; Intuos Pro Paper does not. DESIGN.md records
	// this choice and the (x,y):=(y,width-x) formula the assembler applies.
	RotatesSensor bool

	// LiveSupported reports whether this family can be reconfigured to
	// stream pen events in real time instead of buffering them.
	LiveSupported bool

	// LiveStartOpcode is the family-specific activation opcode for live
	// mode. Spec.md §9 notes this opcode is not recoverable from any
	// preserved documentation; no device capture was available either, so
	// the value used here (0xb3 for intuos_pro) is a chosen one, as
	// DESIGN.md records.
	LiveStartOpcode Opcode
}

var (
	Spark = Family{
		Tag:             TagSpark,
		RotatesSensor:   true,
		LiveSupported:   false,
		LiveStartOpcode: 0,
	}

	Slate = Family{
		Tag:             TagSlate,
		RotatesSensor:   true,
		LiveSupported:   false,
		LiveStartOpcode: 0,
	}

	IntuosPro = Family{
		Tag:             TagIntuosPro,
		RotatesSensor:   false,
		LiveSupported:   true,
		LiveStartOpcode: 0xb3,
	}
)

// GATT UUIDs of the vendor service every family exposes: a
// nordic-UART-like write/notify pair for commands and bulk stroke data,
// plus a button-press notify characteristic used during pairing and
// listen mode. Not stated in any preserved spec document and not taken
// from a device capture: chosen values, like LiveStartOpcode above (see
// DESIGN.md).
const (
	ServiceUUID       = "ffee0001-1523-4f6b-8752-04e2f627cdf3"
	CharWriteUUID     = "ffee0002-1523-4f6b-8752-04e2f627cdf3"
	CharNotifyUUID    = "ffee0003-1523-4f6b-8752-04e2f627cdf3"
	CharButtonUUID    = "ffee0004-1523-4f6b-8752-04e2f627cdf3"
)

// ByTag resolves a Family by its Tag string, as persisted in a
// RegistrationRecord.
func ByTag(tag Tag) (Family, bool) {
	switch tag {
	case TagSpark:
		return Spark, true
	case TagSlate:
		return Slate, true
	case TagIntuosPro:
		return IntuosPro, true
	default:
		return Family{}, false
	}
}
