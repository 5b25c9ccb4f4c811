package request

// CallOption annotates a single call site.
type CallOption func(*callOptions)

type callOptions struct {
	allowed  map[int]struct{}
	messages map[int]string
}

// AllowStatus treats the given non-200 codes as success for this call.
func AllowStatus(codes ...int) CallOption {
	return func(o *callOptions) {
		if o.allowed == nil {
			o.allowed = make(map[int]struct{}, len(codes))
		}
		for _, c := range codes {
			o.allowed[c] = struct{}{}
		}
	}
}

// OverrideMessage replaces the client-wide message for code on this call.
func OverrideMessage(code int, message string) CallOption {
	return func(o *callOptions) {
		if o.messages == nil {
			o.messages = make(map[int]string)
		}
		o.messages[code] = message
	}
}

func collectOptions(opts []CallOption) callOptions {
	var co callOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&co)
		}
	}
	return co
}

func (o callOptions) success(status int) bool {
	if status == 200 {
		return true
	}
	_, ok := o.allowed[status]
	return ok
}
