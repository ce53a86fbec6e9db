package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestgo/pkg/results"
)

func TestRunnerStateMachine(t *testing.T) {
	store := results.NewStore("ping")
	r := NewPingRunner("h1", "h2", "10.0.0.2", 0, time.Second, store)

	// Parsing before running is a programming error.
	assert.Error(t, r.Parse(nil))

	require.NoError(t, r.transition(stateConfigured, stateRunning))
	assert.Error(t, r.transition(stateConfigured, stateRunning))
	require.NoError(t, r.Parse(nil))
	assert.Error(t, r.Parse(nil))
}

func TestNetperfParse(t *testing.T) {
	store := results.NewStore("netperf")
	r := NewNetperfRunner("h1", "10.0.0.2", 0, 5*time.Second, "cubic", store)
	require.NoError(t, r.transition(stateConfigured, stateRunning))

	r.out.WriteString(`remote port is 46882
NETPERF_INTERIM_RESULT[0]=9.41
NETPERF_ENDING[0]=1680000000.20
NETPERF_INTERIM_RESULT[1]=9.38
NETPERF_ENDING[1]=1680000000.40
`)
	require.NoError(t, r.Parse(nil))

	snap := store.Snapshot()
	recs := snap["h1"]["10.0.0.2:46882"]
	require.Len(t, recs, 2)
	assert.Equal(t, "9.41", recs[0]["throughput"])
	assert.Equal(t, "1680000000.20", recs[0]["timestamp"])
	assert.Equal(t, "9.38", recs[1]["throughput"])
}

func TestNetperfParseEmptyOutput(t *testing.T) {
	store := results.NewStore("netperf")
	r := NewNetperfRunner("h1", "10.0.0.2", 0, 5*time.Second, "cubic", store)
	require.NoError(t, r.transition(stateConfigured, stateRunning))

	require.NoError(t, r.Parse(nil))
	assert.True(t, store.Empty())
}

func TestPingParse(t *testing.T) {
	store := results.NewStore("ping")
	r := NewPingRunner("h1", "h2", "10.0.0.2", 0, time.Second, store)
	require.NoError(t, r.transition(stateConfigured, stateRunning))

	r.out.WriteString(`PING 10.0.0.2 (10.0.0.2) 56(84) bytes of data.
[1680000000.123456] 64 bytes from 10.0.0.2: icmp_seq=1 ttl=64 time=5.23 ms
[1680000000.323456] 64 bytes from 10.0.0.2: icmp_seq=2 ttl=64 time=5 ms
garbage line
`)
	require.NoError(t, r.Parse(nil))

	recs := store.Snapshot()["h1"]["10.0.0.2"]
	require.Len(t, recs, 2)
	assert.Equal(t, "5.23", recs[0]["rtt"])
	assert.Equal(t, "1680000000.123456", recs[0]["timestamp"])
	assert.Equal(t, "5", recs[1]["rtt"])
}

func TestIperf3Parse(t *testing.T) {
	store := results.NewStore("iperf3")
	r := NewIperf3Runner("h1", "10.0.0.2", 0, time.Second, 2, "1mbit", store)
	require.NoError(t, r.transition(stateConfigured, stateRunning))

	r.out.WriteString(`{
  "intervals": [
    {"sum": {"start": 0, "bits_per_second": 950000.0, "packets": 82, "lost_packets": 0}},
    {"sum": {"start": 0.2, "bits_per_second": 1050000.0, "packets": 90, "lost_packets": 3}}
  ]
}`)
	require.NoError(t, r.Parse(nil))

	recs := store.Snapshot()["h1"]["10.0.0.2"]
	require.Len(t, recs, 2)
	assert.Equal(t, "0.950", recs[0]["sending_rate"])
	assert.Equal(t, "82", recs[0]["packets"])
	assert.Equal(t, "3", recs[1]["lost_packets"])
}

func TestIperf3ParseBadOutput(t *testing.T) {
	store := results.NewStore("iperf3")
	r := NewIperf3Runner("h1", "10.0.0.2", 0, time.Second, 1, "1mbit", store)
	require.NoError(t, r.transition(stateConfigured, stateRunning))

	r.out.WriteString("iperf3: error - unable to connect")
	assert.Error(t, r.Parse(nil))
	assert.True(t, store.Empty())
}

func TestSsArgs(t *testing.T) {
	store := results.NewStore("ss")
	filter := "sport != 12865 and dport != 12865"

	withFilter := NewSsRunner("h1", "h2", "10.0.0.2", 0, time.Second, filter, store)
	assert.Equal(t,
		[]string{"-i", "-n", "dst", "10.0.0.2", "and", filter},
		withFilter.args())

	noFilter := NewSsRunner("h1", "h2", "10.0.0.2", 0, time.Second, "", store)
	assert.Equal(t, []string{"-i", "-n", "dst", "10.0.0.2"}, noFilter.args())
}

func TestSsParse(t *testing.T) {
	store := results.NewStore("ss")
	r := NewSsRunner("h1", "h2", "10.0.0.2", 0, time.Second, "", store)
	require.NoError(t, r.transition(stateConfigured, stateRunning))

	raw := `State Recv-Q Send-Q Local Address:Port Peer Address:Port
ESTAB 0 0 10.0.0.1:38527 10.0.0.2:46882
	 cubic wscale:7,7 rto:208 rtt:5.1/2.3 cwnd:42 ssthresh:21 delivery_rate 9.2Mbps
`
	r.samples = []ssSample{
		{at: time.Unix(1680000000, 0), raw: raw},
		{at: time.Unix(1680000001, 0), raw: raw},
	}
	require.NoError(t, r.Parse(nil))

	recs := store.Snapshot()["h1"]["10.0.0.2:46882"]
	require.Len(t, recs, 2)
	assert.Equal(t, "42", recs[0]["cwnd"])
	assert.Equal(t, "5.1", recs[0]["rtt"])
	assert.Equal(t, "2.3", recs[0]["dev_rtt"])
	assert.Equal(t, "21", recs[0]["ssthresh"])
	assert.Equal(t, "208", recs[0]["rto"])
	assert.Equal(t, "9.2", recs[0]["delivery_rate"])

	// rwnd never appeared, so the field is absent, not zero.
	_, ok := recs[0]["rwnd"]
	assert.False(t, ok)
}

func TestSsParseMultipleConnections(t *testing.T) {
	store := results.NewStore("ss")
	r := NewSsRunner("h1", "h2", "10.0.0.2", 0, time.Second, "", store)
	require.NoError(t, r.transition(stateConfigured, stateRunning))

	raw := `ESTAB 0 0 10.0.0.1:38527 10.0.0.2:46882
	 cubic rto:208 rtt:5.1/2.3 cwnd:42
ESTAB 0 0 10.0.0.1:38528 10.0.0.2:46883
	 cubic rto:210 rtt:7.4/1.1 cwnd:17
`
	r.samples = []ssSample{{at: time.Unix(1680000000, 0), raw: raw}}
	require.NoError(t, r.Parse(nil))

	snap := store.Snapshot()["h1"]
	require.Len(t, snap, 2)
	assert.Equal(t, "42", snap["10.0.0.2:46882"][0]["cwnd"])
	assert.Equal(t, "17", snap["10.0.0.2:46883"][0]["cwnd"])
}
