package broker

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nsbroker/nsbroker/internal/fdpass"
	"github.com/nsbroker/nsbroker/internal/handshake"
	"github.com/nsbroker/nsbroker/internal/wire"
	"github.com/nsbroker/nsbroker/roster"
)

// workerModeEnv signals a re-exec'd process to run as a request worker
// instead of a broker (spec.md §9: "fork-based worker isolation... preserve
// it"; Go cannot fork a running runtime safely, so this is a self-exec
// equivalent — a fresh process image, not a thread, performs the relay).
const workerModeEnv = "NSBROKER_WORKER_MODE"

// WorkerModeEnv is the environment variable cmd/nsbrokerd checks at startup
// to decide whether to run the broker or dispatch into RunWorkerMode.
const WorkerModeEnv = workerModeEnv

// IsWorkerMode reports whether the current process was re-exec'd as a
// request worker.
func IsWorkerMode() bool {
	return os.Getenv(workerModeEnv) != ""
}

// hostTableEnv carries the JSON-encoded (name -> inherited fd index) table
// the worker needs to find its target host's relay descriptor, standing in
// for the fork-inherited host roster the C source relies on.
const hostTableEnv = "NSBROKER_HOST_TABLE"

type hostTableEntry struct {
	Name      string `json:"name"`
	FDIndex   int    `json:"fd_index"`
	Confirmed bool   `json:"confirmed"`
}

// spawnWorker re-execs the current binary in worker mode, handing it the
// accepted peer socket plus a read-only snapshot of every live host's relay
// descriptor (spec.md §4.5's "read access to the broker's host roster").
// The returned pid is the only thing the parent retains; it never reads the
// worker's stderr (spec.md §7: "workers communicate failure only by exit code").
func (b *Broker) spawnWorker(peer *net.UnixConn) (pid int, err error) {
	self, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("broker: resolve executable: %w", err)
	}

	peerFile, err := peer.File()
	if err != nil {
		return 0, fmt.Errorf("broker: peer conn to file: %w", err)
	}
	defer peerFile.Close()

	extraFiles := []*os.File{peerFile}
	var table []hostTableEntry
	b.roster.ForEach(func(h *roster.Host) bool {
		f, err := h.RelayConn.File()
		if err != nil {
			return true
		}
		extraFiles = append(extraFiles, f)
		table = append(table, hostTableEntry{
			Name:      h.Name,
			FDIndex:   len(extraFiles) - 1,
			Confirmed: !h.Unconfirmed(),
		})
		return true
	})
	defer func() {
		for _, f := range extraFiles[1:] {
			f.Close()
		}
	}()

	tableJSON, err := json.Marshal(table)
	if err != nil {
		return 0, fmt.Errorf("broker: marshal host table: %w", err)
	}

	cmd := exec.Command(self, "-worker")
	cmd.ExtraFiles = extraFiles
	cmd.Env = append(os.Environ(), workerModeEnv+"=1", hostTableEnv+"="+string(tableJSON))
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("broker: start worker: %w", err)
	}
	// The worker is reaped by reapChildren's Wait4, never by cmd.Wait.
	return cmd.Process.Pid, nil
}

func killWorker(pid int) {
	if pid <= 1 {
		return
	}
	unix.Kill(pid, unix.SIGKILL)
}

// reapChildren non-blockingly reaps every exited child and returns their
// pids, matching spec.md §4.4 step 4's "non-blocking reap any child".
func reapChildren() []int {
	var reaped []int
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return reaped
		}
		reaped = append(reaped, pid)
	}
}

// reapBlocking gives just-killed workers a brief window to be reaped during
// shutdown, best-effort: any stragglers become the init process's problem,
// same as an ordinary killed-and-abandoned child would.
func reapBlocking(reqs *handshake.Slots[ReqSlot]) {
	deadline := time.Now().Add(200 * time.Millisecond)
	for reqs.Len() > 0 && time.Now().Before(deadline) {
		if len(reapChildren()) == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// RunWorkerMode is the hidden worker-mode entry point, invoked by
// cmd/nsbrokerd when NSBROKER_WORKER_MODE is set. It implements spec.md
// §4.5 verbatim and calls os.Exit with the documented status codes.
func RunWorkerMode() {
	os.Exit(runWorker())
}

func runWorker() int {
	peerFile := os.NewFile(3, "peer")
	peerConn, err := net.FileConn(peerFile)
	if err != nil {
		return -1
	}
	peer, ok := peerConn.(*net.UnixConn)
	if !ok {
		return -1
	}
	defer peer.Close()

	var table []hostTableEntry
	if err := json.Unmarshal([]byte(os.Getenv(hostTableEnv)), &table); err != nil {
		return -1
	}

	buf := make([]byte, wire.MaxNameLen)
	peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := peer.Read(buf)
	if err != nil {
		return -1
	}
	name, err := wire.DecodeName(buf[:n])
	if err != nil {
		return -1
	}
	name = roster.NormalizeName(name)

	fdIndex := -1
	confirmed := false
	for _, e := range table {
		if e.Name == name {
			fdIndex = e.FDIndex
			confirmed = e.Confirmed
			break
		}
	}
	if fdIndex < 0 {
		return -1 // unknown host
	}
	if !confirmed {
		return -1 // unconfirmed host gating, spec.md §4.5 step 3 / §8 invariant 4
	}

	relayFile := os.NewFile(uintptr(3+fdIndex), "relay")
	relayConn, err := net.FileConn(relayFile)
	if err != nil {
		return -1
	}
	relay, ok := relayConn.(*net.UnixConn)
	if !ok {
		return -1
	}
	defer relay.Close()

	if _, err := relay.Write([]byte{wire.Request}); err != nil {
		return -1
	}

	deadline := time.Now().Add(5 * time.Second)
	var sockFD int
	for {
		if time.Now().After(deadline) {
			return -1
		}
		sockFD, err = fdpass.RecvFD(relay)
		if err == fdpass.ErrRetry {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if err != nil {
			return -1
		}
		break
	}

	if err := fdpass.Send(int(peerFile.Fd()), sockFD); err != nil {
		unix.Close(sockFD)
		return -1
	}
	unix.Close(sockFD)
	return 0
}
