package retry

// Action is a unit of work that may be attempted more than once.
type Action func() error

// Retrier runs an Action under a fixed set of strategies.
type Retrier interface {
	Retry(action Action) (uint, error)
}

type retrier struct {
	strategies []Strategy
}

// NewRetrier returns a Retrier bound to the provided strategies. With no
// strategies the action is retried until it succeeds.
func NewRetrier(strategies ...Strategy) Retrier {
	return &retrier{
		strategies: strategies,
	}
}

func (r *retrier) Retry(action Action) (uint, error) {
	return Retry(action, r.strategies...)
}

// Retry runs action until it returns nil or a strategy vetoes another
// attempt. It returns the number of attempts made and the last error.
//
// Strategies are evaluated in order and evaluation stops at the first veto,
// so filters belong before strategies that sleep.
func Retry(action Action, strategies ...Strategy) (uint, error) {
	for i := uint(1); ; i++ {
		err := action()
		if err == nil {
			return i, nil
		}

		for _, s := range strategies {
			if shouldRetry := s(i, err); !shouldRetry {
				return i, err
			}
		}
	}
}
