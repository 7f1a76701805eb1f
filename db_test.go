package mediadb

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/andreyvit/mediadb/changelog"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestSave(t *testing.T) {
	db := setup(t)
	in := &Broadcast{Name: "test", RtmpURL: "rtmp://localhost/LiveApp/"}
	id := must(db.Save(in))

	if len(id) != DefaultIDLength || strings.Trim(id, "0123456789") != "" {
		t.Errorf("** id = %q, wanted %d decimal digits", id, DefaultIDLength)
	}
	deepEqual(t, in, &Broadcast{Name: "test", RtmpURL: "rtmp://localhost/LiveApp/"})

	deepEqual(t, must(db.Get(id)), &Broadcast{
		StreamID: id,
		Name:     "test",
		Status:   StatusCreated,
		Type:     TypeLiveStream,
		RtmpURL:  "rtmp://localhost/LiveApp/" + id,
		Date:     testNow.UnixMilli(),
	})
	deepEqual(t, must(db.BroadcastCount()), 1)
}

func TestSave_explicitID(t *testing.T) {
	db := setup(t)
	in := &Broadcast{StreamID: "abc", Type: TypeStreamSource, Status: StatusFinished, Date: 42}
	deepEqual(t, must(db.Save(in)), "abc")
	deepEqual(t, must(db.Get("abc")), in)

	_, err := db.Save(&Broadcast{StreamID: "abc", Name: "other"})
	isErr(t, err, ErrDuplicateKey)
	deepEqual(t, must(db.Get("abc")), in)
}

func TestSave_invalid(t *testing.T) {
	db := setup(t)
	_, err := db.Save(nil)
	isErr(t, err, ErrInvalidArgument)
	_, err = db.Save(&Broadcast{Status: "live"})
	isErr(t, err, ErrInvalidArgument)
	_, err = db.Save(&Broadcast{Type: "webrtc"})
	isErr(t, err, ErrInvalidArgument)
	deepEqual(t, must(db.BroadcastCount()), 0)
}

func TestRoundTrip(t *testing.T) {
	for _, enc := range []EncodingMethod{JSON, MsgPack} {
		t.Run(enc.String(), func(t *testing.T) {
			db := setupWith(t, Options{Encoding: enc})
			full := &Broadcast{
				StreamID:    "s1",
				Name:        "Morning show",
				Description: "daily",
				Status:      StatusBroadcasting,
				Type:        TypeLiveStream,
				RtmpURL:     "rtmp://h/app/",
				Date:        1700000000123,
				Duration:    3600000,
				Publish:     true,
				IPAddr:      "10.0.0.5",
				Username:    "admin",
				Password:    "secret",
				EndPoints: []*Endpoint{
					{RtmpURL: "rtmp://yt/live/key", Type: "youtube", Name: "YouTube", BroadcastID: "b1", StreamID: "st1"},
					{RtmpURL: "rtmp://fb/live/key"},
				},
			}
			var decoded Broadcast
			ensure(enc.Decode(must(enc.Encode(full)), &decoded))
			deepEqual(t, &decoded, full)

			ensure1(db.Save(full))
			want := full.Clone()
			want.RtmpURL = "rtmp://h/app/s1"
			deepEqual(t, must(db.Get("s1")), want)

			empty := &Broadcast{StreamID: "s2", Type: TypeLiveStream, Status: StatusCreated, Date: 1, EndPoints: []*Endpoint{}}
			ensure1(db.Save(empty))
			deepEqual(t, must(db.Get("s2")), empty)

			none := &Broadcast{StreamID: "s3", Type: TypeLiveStream, Status: StatusCreated, Date: 1}
			ensure1(db.Save(none))
			deepEqual(t, must(db.Get("s3")), none)

			vod := &Vod{StreamName: "show", VodName: "show.mp4", StreamID: "s1", FilePath: "streams/show.mp4", Type: "streamVod", CreationDate: 1700000000000, Duration: 61000, FileSize: 1 << 30}
			var decodedVod Vod
			ensure(enc.Decode(must(enc.Encode(vod)), &decodedVod))
			deepEqual(t, &decodedVod, vod)

			id := must(db.AddVod(vod))
			wantVod := vod.Clone()
			wantVod.VodID = id
			deepEqual(t, must(db.GetVod(id)), wantVod)
		})
	}
}

func TestGet_missing(t *testing.T) {
	db := setup(t)
	isnil(t, must(db.Get("nope")))
	isnil(t, must(db.Get("")))
	isnil(t, must(db.GetVod("nope")))
}

func TestUpdates(t *testing.T) {
	db := setup(t)
	id := must(db.Save(&Broadcast{Name: "a"}))

	ensure(db.UpdateName(id, "b", "desc"))
	ensure(db.UpdateStatus(id, StatusBroadcasting))
	ensure(db.UpdateDuration(id, 12345))
	ensure(db.UpdatePublish(id, true))

	b := must(db.Get(id))
	deepEqual(t, b.Name, "b")
	deepEqual(t, b.Description, "desc")
	deepEqual(t, b.Status, StatusBroadcasting)
	deepEqual(t, b.Duration, int64(12345))
	deepEqual(t, b.Publish, true)

	isErr(t, db.UpdateStatus(id, "bogus"), ErrInvalidArgument)
	deepEqual(t, must(db.Get(id)).Status, StatusBroadcasting)

	isErr(t, db.UpdateName("nope", "x", "y"), ErrNotFound)
	isErr(t, db.UpdateStatus("nope", StatusFinished), ErrNotFound)
	isErr(t, db.UpdateDuration("nope", 1), ErrNotFound)
	isErr(t, db.UpdatePublish("nope", true), ErrNotFound)
	deepEqual(t, must(db.BroadcastCount()), 1)
}

func TestEndpoints(t *testing.T) {
	db := setup(t)
	id := must(db.Save(&Broadcast{Name: "a"}))
	e1 := &Endpoint{RtmpURL: "rtmp://yt/live/1", Name: "yt"}
	e2 := &Endpoint{RtmpURL: "rtmp://fb/live/2", Name: "fb"}

	ensure(db.AddEndpoint(id, e1))
	ensure(db.AddEndpoint(id, e2))
	ensure(db.AddEndpoint(id, e1))
	deepEqual(t, must(db.Get(id)).EndPoints, []*Endpoint{e1, e2, e1})

	ensure(db.RemoveEndpoint(id, &Endpoint{RtmpURL: e1.RtmpURL}))
	deepEqual(t, must(db.Get(id)).EndPoints, []*Endpoint{e2, e1})

	isErr(t, db.RemoveEndpoint(id, &Endpoint{RtmpURL: "rtmp://nowhere"}), ErrEndpointNotFound)
	deepEqual(t, must(db.Get(id)).EndPoints, []*Endpoint{e2, e1})

	ensure(db.RemoveAllEndpoints(id))
	isempty(t, must(db.Get(id)).EndPoints)

	isErr(t, db.AddEndpoint(id, nil), ErrInvalidArgument)
	isErr(t, db.AddEndpoint("nope", e1), ErrNotFound)
	isErr(t, db.RemoveEndpoint("nope", e1), ErrNotFound)
	isErr(t, db.RemoveAllEndpoints("nope"), ErrNotFound)
}

func TestEndpoints_concurrentAdds(t *testing.T) {
	const workers, perWorker = 16, 8
	db := setup(t)
	id := must(db.Save(&Broadcast{Name: "a"}))

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				err := db.AddEndpoint(id, &Endpoint{RtmpURL: fmt.Sprintf("rtmp://h/%d/%d", w, i)})
				if err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	eps := must(db.Get(id)).EndPoints
	deepEqual(t, len(eps), workers*perWorker)
	seen := make(map[string]bool)
	for _, ep := range eps {
		seen[ep.RtmpURL] = true
	}
	deepEqual(t, len(seen), workers*perWorker)
}

func TestDelete(t *testing.T) {
	db := setup(t)
	id := must(db.Save(&Broadcast{Name: "a"}))
	ensure(db.Delete(id))
	isnil(t, must(db.Get(id)))
	isErr(t, db.Delete(id), ErrNotFound)
	deepEqual(t, must(db.BroadcastCount()), 0)
}

func TestBroadcastList(t *testing.T) {
	db := setup(t)
	for i := range 60 {
		ensure1(db.Save(&Broadcast{StreamID: fmt.Sprintf("s%02d", 59-i)}))
	}

	all := must(db.BroadcastList(0, 1000))
	deepEqual(t, len(all), MaxPageSize)
	deepEqual(t, all[0].StreamID, "s00")
	deepEqual(t, all[49].StreamID, "s49")

	deepEqual(t, streamIDs(must(db.BroadcastList(-5, 3))), []string{"s00", "s01", "s02"})
	deepEqual(t, streamIDs(must(db.BroadcastList(10, 2))), []string{"s10", "s11"})
	deepEqual(t, streamIDs(must(db.BroadcastList(57, 10))), []string{"s57", "s58", "s59"})
	isempty(t, must(db.BroadcastList(60, 10)))
	isempty(t, must(db.BroadcastList(0, 0)))
	isempty(t, must(db.BroadcastList(0, -1)))
}

func TestFilterBroadcastList(t *testing.T) {
	db := setup(t)
	for i, typ := range []Type{TypeIPCamera, TypeLiveStream, TypeIPCamera, TypeStreamSource, TypeIPCamera} {
		ensure1(db.Save(&Broadcast{StreamID: fmt.Sprintf("s%d", i), Type: typ}))
	}

	deepEqual(t, streamIDs(must(db.FilterBroadcastList(0, 10, TypeIPCamera))), []string{"s0", "s2", "s4"})
	deepEqual(t, streamIDs(must(db.FilterBroadcastList(1, 1, TypeIPCamera))), []string{"s2"})
	deepEqual(t, streamIDs(must(db.FilterBroadcastList(0, 10, TypeStreamSource))), []string{"s3"})
	isempty(t, must(db.FilterBroadcastList(0, 10, "unknown")))
	isempty(t, must(db.FilterBroadcastList(0, 0, TypeIPCamera)))
}

func TestResetBroadcastStatus(t *testing.T) {
	db := setup(t)
	ensure1(db.Save(&Broadcast{StreamID: "a", Status: StatusBroadcasting}))
	ensure1(db.Save(&Broadcast{StreamID: "b", Status: StatusCreated}))
	ensure1(db.Save(&Broadcast{StreamID: "c", Status: StatusBroadcasting}))
	ensure1(db.Save(&Broadcast{StreamID: "d", Status: StatusFinished}))

	deepEqual(t, must(db.ResetBroadcastStatus()), 2)
	for _, id := range []string{"a", "b", "c"} {
		deepEqual(t, must(db.Get(id)).Status, StatusCreated)
	}
	deepEqual(t, must(db.Get("d")).Status, StatusFinished)

	deepEqual(t, must(db.ResetBroadcastStatus()), 0)
}

func TestResetBroadcastStatus_skipsUndecodable(t *testing.T) {
	db := setup(t)
	ensure1(db.Save(&Broadcast{StreamID: "a", Status: StatusBroadcasting}))
	db.Broadcasts().Put("b", []byte("{oops"))
	ensure(db.Broadcasts().Commit())

	n, err := db.ResetBroadcastStatus()
	deepEqual(t, n, 1)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("** err = %v, wanted *DecodeError", err)
	}
	deepEqual(t, must(db.Get("a")).Status, StatusCreated)
}

func TestDecodeError(t *testing.T) {
	db := setup(t)
	ensure1(db.Save(&Broadcast{StreamID: "a"}))
	db.Broadcasts().Put("b", []byte("{not json"))
	ensure(db.Broadcasts().Commit())

	_, err := db.Get("b")
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("** Get err = %v, wanted *DecodeError", err)
	}
	_, err = db.BroadcastList(0, 10)
	if !errors.As(err, &de) {
		t.Fatalf("** BroadcastList err = %v, wanted *DecodeError", err)
	}
	if err := db.UpdateName("b", "x", ""); !errors.As(err, &de) {
		t.Fatalf("** UpdateName err = %v, wanted *DecodeError", err)
	}

	deepEqual(t, must(db.Get("a")).StreamID, "a")
	deepEqual(t, db.FailureCount.Load() > 0, true)
}

func TestOnChange(t *testing.T) {
	var changes []string
	db := setupWith(t, Options{
		IDs: &seqIDs{},
		OnChange: func(chg Change) {
			changes = append(changes, chg.String())
		},
	})
	id := must(db.Save(&Broadcast{Name: "a"}))
	ensure(db.UpdateDuration(id, 5))
	vid := must(db.AddVod(&Vod{StreamName: "a"}))
	ensure(db.Delete(id))
	ensure(db.DeleteVod(vid))
	isErr(t, db.Delete(id), ErrNotFound)

	deepEqual(t, changes, []string{
		"put broadcast/id0001",
		"put broadcast/id0001",
		"put vod/id0002",
		"delete broadcast/id0001",
		"delete vod/id0002",
	})
}

func TestOnChange_writesBack(t *testing.T) {
	var db *DB
	var changes []string
	db = setupWith(t, Options{
		IDs: &seqIDs{},
		OnChange: func(chg Change) {
			changes = append(changes, chg.String())
			if chg.Collection == broadcastCollection && len(changes) == 1 {
				ensure(db.UpdatePublish(chg.Key, true))
			}
		},
	})

	done := make(chan string)
	go func() {
		done <- must(db.Save(&Broadcast{Name: "a"}))
	}()
	var id string
	select {
	case id = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("** Save did not return while OnChange wrote to the same collection")
	}

	deepEqual(t, must(db.Get(id)).Publish, true)
	deepEqual(t, changes, []string{
		"put broadcast/id0001",
		"put broadcast/id0001",
	})
}

func TestJournal(t *testing.T) {
	dir := t.TempDir()
	db := setupWith(t, Options{IDs: &seqIDs{}, JournalDir: dir})
	id := must(db.Save(&Broadcast{Name: "a"}))
	ensure(db.UpdateStatus(id, StatusBroadcasting))
	ensure(db.Delete(id))
	ensure(db.Close())

	recs := must(changelog.ReadAll(dir, changelog.Options{FileName: JournalFileName}))
	deepEqual(t, len(recs), 3)
	var ops []string
	for _, r := range recs {
		ops = append(ops, r.Op+" "+r.Collection+"/"+r.Key)
	}
	deepEqual(t, ops, []string{"put broadcast/id0001", "put broadcast/id0001", "delete broadcast/id0001"})

	b := must(decodeDoc[Broadcast](JSON, recs[1].Doc))
	deepEqual(t, b.Status, StatusBroadcasting)
	isempty(t, recs[2].Doc)
}

func TestReopen(t *testing.T) {
	for _, backend := range []Backend{Bolt, Badger, SQLite} {
		t.Run(backend.String(), func(t *testing.T) {
			path := storePath(t, backend)
			opt := Options{Backend: backend, IsTesting: true, Now: fixedNow, Logger: testLogger(t)}

			db := must(Open(path, opt))
			id := must(db.Save(&Broadcast{Name: "a", EndPoints: []*Endpoint{{RtmpURL: "rtmp://x"}}}))
			vid := must(db.AddVod(&Vod{StreamName: "a", CreationDate: 7}))
			want := must(db.Get(id))
			ensure(db.Close())

			db = must(Open(path, opt))
			defer db.Close()
			deepEqual(t, must(db.Get(id)), want)
			deepEqual(t, must(db.GetVod(vid)).CreationDate, int64(7))
			deepEqual(t, must(db.BroadcastCount()), 1)
			deepEqual(t, must(db.TotalVodNumber()), 1)
		})
	}
}

func TestClosed(t *testing.T) {
	db := setup(t)
	id := must(db.Save(&Broadcast{Name: "a"}))
	ensure(db.Close())
	ensure(db.Close())

	_, err := db.Get(id)
	isErr(t, err, ErrClosed)
	_, err = db.Save(&Broadcast{})
	isErr(t, err, ErrClosed)
	isErr(t, db.Delete(id), ErrClosed)
}

func TestBoltOpenClose_noLeaks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	db := must(Open(storePath(t, Bolt), Options{IsTesting: true, Logger: testLogger(t)}))
	ensure1(db.Save(&Broadcast{Name: "a"}))
	ensure(db.Close())
}

func streamIDs(list []*Broadcast) []string {
	out := make([]string, 0, len(list))
	for _, b := range list {
		out = append(out, b.StreamID)
	}
	return out
}

// seqIDs hands out predictable ids: id0001, id0002 and so on.
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id%04d", s.n), nil
}

func fixedNow() time.Time {
	return testNow
}

func storePath(t testing.TB, backend Backend) string {
	switch backend {
	case Badger:
		return t.TempDir()
	case Memory:
		return ""
	default:
		return filepath.Join(t.TempDir(), "media.db")
	}
}

func setup(t testing.TB) *DB {
	return setupWith(t, Options{})
}

func setupWith(t testing.TB, opt Options) *DB {
	t.Helper()
	opt.IsTesting = true
	if opt.Now == nil {
		opt.Now = fixedNow
	}
	if opt.Logger == nil {
		opt.Logger = testLogger(t)
	}
	path := storePath(t, opt.Backend)
	t.Logf("DB: %s", path)

	db := must(Open(path, opt))
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

type testLogWriter struct {
	t testing.TB
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func testLogger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(testLogWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func deepEqual[T any](t testing.TB, a, e T) {
	if diff := cmp.Diff(e, a); diff != "" {
		t.Helper()
		t.Errorf("** got %v, wanted %v (-wanted +got):\n%s", a, e, diff)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got %v, wanted nil", a)
	}
}

func isnilSlice[T any, S ~[]T](t testing.TB, a S) {
	if a != nil {
		t.Helper()
		t.Errorf("** got %v, wanted nil slice", a)
	}
}

func isErr(t testing.TB, err, target error) {
	if !errors.Is(err, target) {
		t.Helper()
		t.Errorf("** got error %v, wanted %v", err, target)
	}
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func ensure1[T any](_ T, err error) {
	ensure(err)
}
