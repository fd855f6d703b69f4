package sync

// Modes describes which replication mechanisms are active.
type Modes struct {
	Push bool
	Pull bool
}

// Resolve decides the active sync mechanisms from configuration alone.
//
// In strict mode an enabled pull side wins exclusively: push is forced off so
// at most one mechanism ever writes sync records for the same events. Outside
// strict mode both mechanisms may run together, which is only intended for
// local development.
func Resolve(pushEnabled, pullEnabled, strict bool) Modes {
	if strict && pullEnabled {
		return Modes{Push: false, Pull: true}
	}
	return Modes{Push: pushEnabled, Pull: pullEnabled}
}
