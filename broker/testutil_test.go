package broker

import (
	"path/filepath"
	"testing"

	"github.com/nsbroker/nsbroker/core/config"
)

type nopLog struct{}

func (nopLog) Debugf(string, ...interface{})    {}
func (nopLog) Noticef(string, ...interface{})   {}
func (nopLog) Warningf(string, ...interface{})  {}
func (nopLog) Errorf(string, ...interface{})    {}
func (nopLog) Criticalf(string, ...interface{}) {}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Broker.RegPath = filepath.Join(dir, "registration.sock")
	cfg.Broker.ReqPath = filepath.Join(dir, "request.sock")
	cfg.Broker.StatusPath = ""

	b, err := New(&cfg.Broker, nopLog{})
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	t.Cleanup(func() { b.Shutdown(0) })
	return b
}
