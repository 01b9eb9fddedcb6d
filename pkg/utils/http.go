package utils

import "io"

// DrainAndClose closes the given ReadCloser.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	// Drain to let the transport reuse the connection.
	_, _ = io.Copy(io.Discard, rc)
	return rc.Close()
}

// ReadAndClose reads at most limit bytes from rc and then drains and closes it.
func ReadAndClose(rc io.ReadCloser, limit int64) ([]byte, error) {
	if rc == nil {
		return nil, nil
	}
	bz, err := io.ReadAll(io.LimitReader(rc, limit))
	if cerr := DrainAndClose(rc); cerr != nil && err == nil {
		err = cerr
	}
	return bz, err
}
