package domain

// MaxFeeBps is the upper bound for the protocol fee rate (100%).
const MaxFeeBps = 10000

// Protocol is the singleton registry record: fee configuration plus
// running aggregates across all duels.
type Protocol struct {
	Authority   string // identity allowed to administer the registry
	Treasury    string // identity receiving protocol fees
	Oracle      string // identity allowed to report portfolio values
	FeeBps      uint16 // basis points (100 = 1%)
	TotalDuels  int64  // monotonically incrementing duel counter
	TotalVolume int64  // cumulative pooled stake of settled duels
}

// NewProtocol builds the registry record, rejecting out-of-range fees.
func NewProtocol(authority, treasury, oracle string, feeBps uint16) (*Protocol, error) {
	if feeBps > MaxFeeBps {
		return nil, ErrFeeOutOfRange
	}
	return &Protocol{
		Authority: authority,
		Treasury:  treasury,
		Oracle:    oracle,
		FeeBps:    feeBps,
	}, nil
}

// RecordDuelCreated increments the duel counter.
func (p *Protocol) RecordDuelCreated() {
	p.TotalDuels++
}

// RecordSettlement adds the pooled stake of a settled duel to the
// cumulative volume.
func (p *Protocol) RecordSettlement(pooledStake int64) error {
	volume, err := checkedAdd(p.TotalVolume, pooledStake)
	if err != nil {
		return err
	}
	p.TotalVolume = volume
	return nil
}
