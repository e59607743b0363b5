package domain

// PlanKind is the decision for a requested transition.
type PlanKind int

const (
	PlanApply PlanKind = iota
	PlanNoop
	PlanReject
)

func (p PlanKind) String() string {
	switch p {
	case PlanApply:
		return "apply"
	case PlanNoop:
		return "noop"
	default:
		return "reject"
	}
}

var paymentEdges = map[Status][]Status{
	StatusPending: {StatusPaid, StatusFailed, StatusCancelled},
	StatusPaid:    {StatusRefunded},
}

var productEdges = map[Status][]Status{
	StatusPending:  {StatusPaid, StatusFailed, StatusCancelled},
	StatusPaid:     {StatusRefunded, StatusExported},
	StatusExported: {StatusShipped},
	StatusShipped:  {StatusDelivered},
}

func edges(kind Kind) map[Status][]Status {
	if kind == KindProduct {
		return productEdges
	}
	return paymentEdges
}

// CanTransition reports whether from -> to is a single legal edge.
func CanTransition(kind Kind, from, to Status) bool {
	for _, next := range edges(kind)[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reachable reports whether to can be reached from from in zero or more
// steps.
func Reachable(kind Kind, from, to Status) bool {
	if from == to {
		return true
	}
	graph := edges(kind)
	seen := map[Status]bool{from: true}
	queue := []Status{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range graph[current] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Plan decides what a request to move an order from current to target does.
// An order already at target, or already past it, is a no-op.
func Plan(kind Kind, current, target Status) PlanKind {
	if current == target || Reachable(kind, target, current) {
		return PlanNoop
	}
	if CanTransition(kind, current, target) {
		return PlanApply
	}
	return PlanReject
}

func IsTerminal(kind Kind, status Status) bool {
	return len(edges(kind)[status]) == 0
}

func ValidStatus(kind Kind, status Status) bool {
	switch status {
	case StatusPending, StatusPaid, StatusRefunded, StatusFailed, StatusCancelled:
		return true
	case StatusExported, StatusShipped, StatusDelivered:
		return kind == KindProduct
	default:
		return false
	}
}
