package asrun

// Classification is one reconciliation outcome for a single planned
// block or an unplanned segment discovered in the as-run log.
type Classification string

const (
	Match                   Classification = "MATCH"
	MissingBlock            Classification = "MISSING_BLOCK"
	ExtraBlock              Classification = "EXTRA_BLOCK"
	BlockTimeMismatch       Classification = "BLOCK_TIME_MISMATCH"
	SegmentSequenceMismatch Classification = "SEGMENT_SEQUENCE_MISMATCH"
	PhantomSegment          Classification = "PHANTOM_SEGMENT"
	RuntimeRecovery         Classification = "RUNTIME_RECOVERY"
	RunwayDegradation       Classification = "RUNWAY_DEGRADATION"
)

// failingClassifications are the classifications that force success=false
// on a reconciliation report.
var failingClassifications = map[Classification]bool{
	MissingBlock:            true,
	ExtraBlock:              true,
	BlockTimeMismatch:       true,
	SegmentSequenceMismatch: true,
	PhantomSegment:          true,
}

// PlannedBlock is one entry of the planned TransmissionLog.
type PlannedBlock struct {
	BlockID       string
	StartUTCMS    int64
	EndUTCMS      int64
	SegmentCount  int
	RunwayDeficit bool // this block was scheduled over an under-filled runway
}

// TransmissionLog is the planned sequence of blocks for a channel over
// some window, in order.
type TransmissionLog struct {
	ChannelID string
	Blocks    []PlannedBlock
}

// ActualSegment is one aired segment reconstructed from as-run records:
// a SEG_START/terminal pair associated with a block by segment_index
// and actual start/end time.
type ActualSegment struct {
	BlockID         string
	SegmentIndex    int
	StartUTCMS      int64
	EndUTCMS        int64
	Status          string // AIRED | TRUNCATED | SKIPPED
	RuntimeRecovery bool
}

// AsRunLog is the actual sequence of segments a channel aired, in order.
type AsRunLog struct {
	ChannelID string
	Segments  []ActualSegment
}

// Finding is one reconciliation result: either a classified planned
// block or an unplanned/phantom segment.
type Finding struct {
	BlockID        string
	Classification Classification
	Detail         string
}

// Report is the outcome of reconciling a TransmissionLog against an
// AsRunLog.
type Report struct {
	ChannelID string
	Findings  []Finding
	Success   bool
}

// Reconcile compares planned against actual block by block. Blocks are
// matched by BlockID. A planned block whose segments carry RuntimeRecovery
// is RUNTIME_RECOVERY, or RUNWAY_DEGRADATION when the plan marks it with a
// runway deficit. Any actual BlockID that doesn't appear in the plan is an
// EXTRA_BLOCK unless its segments carry RuntimeRecovery, in which case it
// is RUNTIME_RECOVERY.
func Reconcile(plan TransmissionLog, actual AsRunLog) Report {
	actualByBlock := make(map[string][]ActualSegment)
	seen := make(map[string]bool)
	for _, seg := range actual.Segments {
		actualByBlock[seg.BlockID] = append(actualByBlock[seg.BlockID], seg)
	}

	report := Report{ChannelID: plan.ChannelID, Success: true}

	for _, block := range plan.Blocks {
		seen[block.BlockID] = true
		segs, ok := actualByBlock[block.BlockID]
		if !ok || len(segs) == 0 {
			report.add(Finding{BlockID: block.BlockID, Classification: MissingBlock,
				Detail: "no as-run segments found for this block"})
			continue
		}

		if segs[0].StartUTCMS != block.StartUTCMS {
			report.add(Finding{BlockID: block.BlockID, Classification: BlockTimeMismatch,
				Detail: "actual start does not match planned start"})
			continue
		}

		if !sequentialFrom(segs, 0) {
			report.add(Finding{BlockID: block.BlockID, Classification: SegmentSequenceMismatch,
				Detail: "segment indexes are not contiguous from zero"})
			continue
		}

		if anyRecovery(segs) {
			if block.RunwayDeficit {
				report.add(Finding{BlockID: block.BlockID, Classification: RunwayDegradation,
					Detail: "runtime recovery driven by an under-filled runway"})
			} else {
				report.add(Finding{BlockID: block.BlockID, Classification: RuntimeRecovery,
					Detail: "runtime recovery aired, block otherwise intact"})
			}
			continue
		}

		report.add(Finding{BlockID: block.BlockID, Classification: Match})
	}

	for blockID := range actualByBlock {
		if !seen[blockID] {
			recovery := anyRecovery(actualByBlock[blockID])
			if recovery {
				report.add(Finding{BlockID: blockID, Classification: RuntimeRecovery,
					Detail: "unplanned block aired as a recovery segment"})
			} else {
				report.add(Finding{BlockID: blockID, Classification: ExtraBlock,
					Detail: "unplanned block with no corresponding plan entry"})
			}
		}
	}

	return report
}

func (r *Report) add(f Finding) {
	r.Findings = append(r.Findings, f)
	if failingClassifications[f.Classification] {
		r.Success = false
	}
}

func sequentialFrom(segs []ActualSegment, start int) bool {
	want := start
	for _, s := range segs {
		if s.SegmentIndex != want {
			return false
		}
		want++
	}
	return true
}

func anyRecovery(segs []ActualSegment) bool {
	for _, s := range segs {
		if s.RuntimeRecovery {
			return true
		}
	}
	return false
}
