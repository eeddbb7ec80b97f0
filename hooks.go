package tiercache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them while holding the key's lock.
type Hooks interface {
	// A disk entry could not be opened or decoded. Decode failures also
	// remove the entry.
	DiskReadFailed(key string, err error)

	// The network result could not be turned into an artifact.
	BuildFailed(key string, err error)

	// A fetched artifact could not be written to the disk tier. The artifact
	// is still served.
	PersistFailed(key string, err error)

	// The origin failed, or did not answer within the request timeout.
	NetworkFailed(key, locator string, err error)
	NetworkTimeout(key, locator string)

	// An allocation ran out of memory and the reclaim pass ran.
	// drained is the number of idle buffers freed.
	LowMemory(drained int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) DiskReadFailed(string, error)        {}
func (NopHooks) BuildFailed(string, error)           {}
func (NopHooks) PersistFailed(string, error)         {}
func (NopHooks) NetworkFailed(string, string, error) {}
func (NopHooks) NetworkTimeout(string, string)       {}
func (NopHooks) LowMemory(int)                       {}
