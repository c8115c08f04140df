package worker

// coalesceState tracks GeoJSON dataset loads. Only one load runs at a time, and
// requests arriving meanwhile collapse into one follow-up load of the newest.
type coalesceState int

const (
	// stateIdle: no load running.
	stateIdle coalesceState = iota
	// stateCoalescing: a load ran and the caller has not yet acknowledged it.
	stateCoalescing
	// stateNeedsLoadData: another LoadData arrived while coalescing.
	stateNeedsLoadData
)

func (s coalesceState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateCoalescing:
		return "Coalescing"
	case stateNeedsLoadData:
		return "NeedsLoadData"
	}
	return "unknown"
}

type coalesceEvent int

const (
	eventLoadData coalesceEvent = iota
	eventCoalesce
)

type coalesceAction int

const (
	actionNone coalesceAction = iota
	actionStartLoad
)

func transition(s coalesceState, e coalesceEvent) (coalesceState, coalesceAction) {
	switch e {
	case eventLoadData:
		switch s {
		case stateIdle:
			return stateCoalescing, actionStartLoad
		case stateCoalescing, stateNeedsLoadData:
			return stateNeedsLoadData, actionNone
		}
	case eventCoalesce:
		switch s {
		case stateCoalescing:
			return stateIdle, actionNone
		case stateNeedsLoadData:
			return stateCoalescing, actionStartLoad
		case stateIdle:
			return stateIdle, actionNone
		}
	}
	return s, actionNone
}
