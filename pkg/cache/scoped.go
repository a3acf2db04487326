package cache

// ScopedKeyer prefixes every key of an inner Keyer. The server uses it to
// keep entries of different models or tenants apart in a shared Redis.
//
//	keyer := NewScopedKeyer(NewDefaultKeyer(), "serve:regression:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix. A nil inner keyer means
// [DefaultKeyer].
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{inner: inner, prefix: prefix}
}

func (k *ScopedKeyer) RunKey(modelHash string, opts RunKeyOpts) string {
	return k.prefix + k.inner.RunKey(modelHash, opts)
}

func (k *ScopedKeyer) ArtifactKey(modelHash string, opts ArtifactKeyOpts) string {
	return k.prefix + k.inner.ArtifactKey(modelHash, opts)
}
