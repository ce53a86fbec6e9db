package results

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPreservesPerDestOrder(t *testing.T) {
	s := NewStore("netperf")
	for i := 0; i < 5; i++ {
		s.Add("h1", "10.0.0.2:80", Record{"seq": fmt.Sprint(i)})
	}

	snap := s.Snapshot()
	recs := snap["h1"]["10.0.0.2:80"]
	require.Len(t, recs, 5)
	for i, rec := range recs {
		assert.Equal(t, fmt.Sprint(i), rec["seq"])
	}
}

func TestConcurrentAdd(t *testing.T) {
	s := NewStore("ping")
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			dest := fmt.Sprintf("10.0.0.%d", w)
			for i := 0; i < 100; i++ {
				s.Add("h1", dest, Record{"rtt": "1.0"})
			}
		}(w)
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap["h1"], 8)
	for dest, recs := range snap["h1"] {
		assert.Len(t, recs, 100, dest)
	}
}

func TestClear(t *testing.T) {
	s := NewStore("ss")
	s.Add("h1", "10.0.0.2:80", Record{"cwnd": "10"})
	require.False(t, s.Empty())

	s.Clear()
	assert.True(t, s.Empty())
}

func TestToJSON(t *testing.T) {
	s := NewStore("iperf3")
	s.Add("h1", "10.0.0.2", Record{"sending_rate": "0.95"})

	raw, err := s.ToJSON()
	require.NoError(t, err)

	var decoded map[string]map[string][]Record
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "0.95", decoded["h1"]["10.0.0.2"][0]["sending_rate"])
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore("tc")
	s.Add("h1", "eth0", Record{"drops": "0"})

	snap := s.Snapshot()
	snap["h1"]["eth0"][0]["drops"] = "99"
	snap["h1"]["evil"] = []Record{{"drops": "99"}}

	fresh := s.Snapshot()
	assert.Equal(t, "0", fresh["h1"]["eth0"][0]["drops"])
	assert.NotContains(t, fresh["h1"], "evil")
}

func TestStoresClearAll(t *testing.T) {
	stores := NewStores()
	stores.Netperf.Add("h1", "d", Record{"throughput": "1"})
	stores.Ping.Add("h1", "d", Record{"rtt": "1"})

	stores.ClearAll()
	for _, store := range stores.All() {
		assert.True(t, store.Empty(), store.Tool())
	}
}

func TestWriteFilesSkipsEmpty(t *testing.T) {
	dir := t.TempDir()
	stores := NewStores()
	stores.Netperf.Add("h1", "10.0.0.2:80", Record{"throughput": "9.4"})

	require.NoError(t, stores.WriteFiles(dir))
	assert.FileExists(t, dir+"/netperf.json")
	assert.NoFileExists(t, dir+"/ping.json")
}
