//go:build !(linux && (amd64 || arm64))

package usercontext

func newEnforcing(int) (Switcher, error) {
	return nil, ErrUnsupported
}
