package zram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vramfs/zram/backing"
	"github.com/vramfs/zram/codec"
	"github.com/vramfs/zram/common"
	"github.com/vramfs/zram/control"
	"github.com/vramfs/zram/dedup"
	"github.com/vramfs/zram/ioengine"
	"github.com/vramfs/zram/pool"
	"github.com/vramfs/zram/slot"
	"github.com/vramfs/zram/writeback"
)

// State is the device lifecycle state described in §4.6.
type State int

const (
	Unconfigured State = iota
	Configured
)

// Device is a single compressed RAM block device instance. Configuration mutations
// (Configure, Reset, and the subset of attribute writes restricted to the unconfigured
// state) take initLock for write; the data path takes it for read.
type Device struct {
	initLock sync.RWMutex

	state State
	cfg   Config

	table   *slot.Table
	pool    pool.Pool
	codec   codec.Codec
	dedup   dedup.Index
	backing *backing.Store

	engine   *ioengine.Engine
	policy   *writeback.Policy

	openers atomic.Int32

	claim atomic.Bool // set during Reset to refuse new opens racing the teardown
}

// New returns an unconfigured Device.
func New() *Device {
	return &Device{state: Unconfigured}
}

// Open registers a new opener, refusing if the device is mid-reset.
func (d *Device) Open() error {
	if d.claim.Load() {
		return common.NewError(common.KindState, "device is being reset")
	}
	d.openers.Add(1)
	return nil
}

// Close drops one opener.
func (d *Device) Close() {
	d.openers.Add(-1)
}

// Configure allocates the slot table, pool, and codec and transitions the device from
// Unconfigured to Configured. It fails if the device is already configured, matching
// the kernel driver's "configurable only once per lifecycle" rule for disksize.
func (d *Device) Configure(cfg Config) error {
	d.initLock.Lock()
	defer d.initLock.Unlock()

	if d.state != Unconfigured {
		return common.NewError(common.KindState, "device already configured")
	}
	if cfg.DiskSize <= 0 {
		return common.NewError(common.KindValidation, "disksize must be positive")
	}
	cfg = cfg.normalized()

	nrPages := (cfg.DiskSize + PageSize - 1) / PageSize
	table := slot.NewTable(int(nrPages), PageSize)

	var c codec.Codec
	switch cfg.CompAlgorithm {
	case "zstd":
		c = codec.NewZstd(cfg.CompLevel)
	default:
		return common.NewError(common.KindValidation, fmt.Sprintf("unknown comp_algorithm %q", cfg.CompAlgorithm))
	}

	p := pool.NewMem(cfg.MemLimitPages * PageSize)

	var dedupIdx dedup.Index
	switch {
	case !cfg.Dedup:
		dedupIdx = dedup.Disabled()
	case cfg.DedupIndexPath != "":
		idx, err := dedup.OpenBolt(cfg.DedupIndexPath)
		if err != nil {
			return err
		}
		dedupIdx = idx
	default:
		dedupIdx = dedup.New()
	}

	engine := ioengine.New(table, p, c, dedupIdx, ioengine.Config{
		PageSize:          PageSize,
		HugeClassSize:     cfg.HugeClassSize,
		LowRatioThreshold: cfg.LowRatioThreshold,
	})

	var store *backing.Store
	if cfg.BackingDevPath != "" {
		dev, err := backing.OpenFile(cfg.BackingDevPath, PageSize)
		if err != nil {
			return err
		}
		store = backing.Open(dev, nrPages, PageSize)
		engine.SetBacking(store)
	}

	d.cfg = cfg
	d.table = table
	d.pool = p
	d.codec = c
	d.dedup = dedupIdx
	d.backing = store
	d.engine = engine
	d.policy = writeback.New(table, p, c, dedupIdx, store, PageSize)
	d.state = Configured
	return nil
}

// Reset tears the device down and returns it to Unconfigured. It refuses while any
// opener holds the device.
func (d *Device) Reset() error {
	if d.openers.Load() > 0 {
		return common.NewError(common.KindState, "device has active openers")
	}
	d.claim.Store(true)
	defer d.claim.Store(false)

	d.initLock.Lock()
	defer d.initLock.Unlock()

	if d.state != Configured {
		return common.NewError(common.KindState, "device is not configured")
	}
	if d.backing != nil {
		_ = d.backing.Close()
	}
	if d.dedup != nil {
		_ = d.dedup.Close()
	}
	d.table = nil
	d.pool = nil
	d.codec = nil
	d.dedup = nil
	d.backing = nil
	d.engine = nil
	d.policy = nil
	d.state = Unconfigured
	d.cfg = Config{}
	return nil
}

func (d *Device) requireConfigured() error {
	if d.state != Configured {
		return common.NewError(common.KindState, "device not configured")
	}
	return nil
}

// Read, Write, Discard, and WriteZeroes take initLock for read, consistent with every
// other data-path operation running concurrently with itself but exclusively of a
// configure/reset transition.
func (d *Device) Read(req *ioengine.Request) error {
	d.initLock.RLock()
	defer d.initLock.RUnlock()
	if err := d.requireConfigured(); err != nil {
		return err
	}
	return d.engine.Read(req)
}

func (d *Device) Write(req *ioengine.Request) error {
	d.initLock.RLock()
	defer d.initLock.RUnlock()
	if err := d.requireConfigured(); err != nil {
		return err
	}
	return d.engine.Write(req)
}

func (d *Device) Discard(req *ioengine.Request) error {
	d.initLock.RLock()
	defer d.initLock.RUnlock()
	if err := d.requireConfigured(); err != nil {
		return err
	}
	return d.engine.Discard(req)
}

func (d *Device) WriteZeroes(req *ioengine.Request) error {
	d.initLock.RLock()
	defer d.initLock.RUnlock()
	if err := d.requireConfigured(); err != nil {
		return err
	}
	return d.engine.WriteZeroes(req)
}

// Writeback runs one writeback control-plane invocation. ctx cancellation is the soft
// signal described in §4.5 step 3a.
func (d *Device) Writeback(ctx context.Context, req writeback.Request) (writeback.Result, error) {
	d.initLock.RLock()
	defer d.initLock.RUnlock()
	if err := d.requireConfigured(); err != nil {
		return writeback.Result{}, err
	}
	return d.policy.Run(ctx, req)
}

// ReadAttr implements the read side of the text control surface for attributes that
// return a value (disksize, initstate, and the *_stat tuples).
func (d *Device) ReadAttr(name string) (string, error) {
	d.initLock.RLock()
	defer d.initLock.RUnlock()

	switch name {
	case "initstate":
		if d.state == Configured {
			return "1", nil
		}
		return "0", nil
	case "disksize":
		if d.state != Configured {
			return "0", nil
		}
		return strconv.FormatInt(d.cfg.DiskSize, 10), nil
	case "comp_algorithm":
		return d.cfg.CompAlgorithm, nil
	case "backing_dev":
		return d.cfg.BackingDevPath, nil
	case "dedup_index_path":
		return d.cfg.DedupIndexPath, nil
	case "mm_stat":
		if err := d.requireConfigured(); err != nil {
			return "", err
		}
		s := d.engine.Stats()
		used := d.pool.TotalPages() * PageSize
		return control.MMStat(0, s.CompressedSz.Load(), used, d.cfg.MemLimitPages*PageSize,
			s.MaxUsedPages.Load()*PageSize, s.SamePages.Load(), 0, s.HugePages.Load()), nil
	case "io_stat":
		if err := d.requireConfigured(); err != nil {
			return "", err
		}
		s := d.engine.Stats()
		return control.IOStat(0, 0, s.InvalidIO.Load(), s.NotifyFree.Load()), nil
	case "bd_stat":
		if err := d.requireConfigured(); err != nil {
			return "", err
		}
		if d.backing == nil {
			return control.BDStat(0, 0, 0), nil
		}
		count, reads, writes := d.backing.Stats()
		return control.BDStat(count, reads, writes), nil
	case "debug_stat":
		if err := d.requireConfigured(); err != nil {
			return "", err
		}
		return control.DebugStat(d.engine.Stats().Writestall.Load()), nil
	case "idle_stat":
		if err := d.requireConfigured(); err != nil {
			return "", err
		}
		var idle int64
		for i := 0; i < d.table.Len(); i++ {
			s := d.table.Slot(i)
			s.Lock()
			if s.Allocated() && s.TestFlag(slot.Idle) {
				idle++
			}
			s.Unlock()
		}
		return strconv.FormatInt(idle, 10), nil
	case "use_dedup":
		if d.cfg.Dedup {
			return "1", nil
		}
		return "0", nil
	case "max_comp_streams":
		return strconv.Itoa(d.cfg.MaxCompStreams), nil
	case "writeback_limit":
		if d.backing == nil {
			return "0", nil
		}
		limit, _ := d.backing.WriteLimit()
		return strconv.FormatInt(limit, 10), nil
	case "writeback_limit_enable":
		if d.backing == nil {
			return "0", nil
		}
		_, enable := d.backing.WriteLimit()
		if enable {
			return "1", nil
		}
		return "0", nil
	default:
		return "", common.NewError(common.KindValidation, fmt.Sprintf("unknown attribute %q", name))
	}
}

// WriteAttr implements the write side of the text control surface.
func (d *Device) WriteAttr(name, value string) error {
	value = strings.TrimRight(value, "\n")

	switch name {
	case "disksize":
		size, err := control.ParseSize(value)
		if err != nil {
			return err
		}
		return d.Configure(Config{DiskSize: size, CompAlgorithm: d.cfg.CompAlgorithm,
			BackingDevPath: d.cfg.BackingDevPath, Dedup: d.cfg.Dedup, DedupIndexPath: d.cfg.DedupIndexPath,
			MemLimitPages: d.cfg.MemLimitPages})

	case "reset":
		nonzero, err := control.ParseBool(value)
		if err != nil {
			return err
		}
		if !nonzero {
			return nil
		}
		return d.Reset()

	case "comp_algorithm":
		d.initLock.Lock()
		defer d.initLock.Unlock()
		if d.state != Unconfigured {
			return common.NewError(common.KindState, "comp_algorithm only settable while unconfigured")
		}
		d.cfg.CompAlgorithm = value
		return nil

	case "backing_dev":
		d.initLock.Lock()
		defer d.initLock.Unlock()
		if d.state != Unconfigured {
			return common.NewError(common.KindState, "backing_dev only settable while unconfigured")
		}
		d.cfg.BackingDevPath = value
		return nil

	case "dedup_index_path":
		d.initLock.Lock()
		defer d.initLock.Unlock()
		if d.state != Unconfigured {
			return common.NewError(common.KindState, "dedup_index_path only settable while unconfigured")
		}
		d.cfg.DedupIndexPath = value
		return nil

	case "use_dedup":
		enable, err := control.ParseBool(value)
		if err != nil {
			return err
		}
		d.initLock.Lock()
		defer d.initLock.Unlock()
		if d.state != Unconfigured {
			return common.NewError(common.KindState, "use_dedup only settable while unconfigured")
		}
		d.cfg.Dedup = enable
		return nil

	case "max_comp_streams":
		n, err := control.ParseSize(value)
		if err != nil {
			return err
		}
		d.initLock.Lock()
		defer d.initLock.Unlock()
		d.cfg.MaxCompStreams = int(n)
		return nil

	case "mem_limit":
		limit, err := control.ParseSize(value)
		if err != nil {
			return err
		}
		d.initLock.Lock()
		defer d.initLock.Unlock()
		d.cfg.MemLimitPages = limit / PageSize
		if d.state == Configured {
			d.pool.SetLimit(d.cfg.MemLimitPages * PageSize)
		}
		return nil

	case "mem_used_max":
		n, err := control.ParseSize(value)
		if err != nil {
			return err
		}
		if n != 0 {
			return common.NewError(common.KindValidation, "mem_used_max only accepts 0 (reset)")
		}
		d.initLock.RLock()
		defer d.initLock.RUnlock()
		if err := d.requireConfigured(); err != nil {
			return err
		}
		d.engine.Stats().MaxUsedPages.Store(0)
		return nil

	case "compact":
		d.initLock.RLock()
		defer d.initLock.RUnlock()
		if err := d.requireConfigured(); err != nil {
			return err
		}
		d.pool.Compact()
		return nil

	case "idle":
		if !control.ParseAll(value) {
			return common.NewError(common.KindValidation, "idle only accepts \"all\"")
		}
		d.initLock.RLock()
		defer d.initLock.RUnlock()
		if err := d.requireConfigured(); err != nil {
			return err
		}
		for i := 0; i < d.table.Len(); i++ {
			s := d.table.Slot(i)
			s.Lock()
			if s.Allocated() && s.TestFlag(slot.CompressLow) {
				s.MarkIdle()
			}
			s.Unlock()
		}
		return nil

	case "new":
		if !control.ParseAll(value) {
			return common.NewError(common.KindValidation, "new only accepts \"all\"")
		}
		d.initLock.RLock()
		defer d.initLock.RUnlock()
		if err := d.requireConfigured(); err != nil {
			return err
		}
		for i := 0; i < d.table.Len(); i++ {
			s := d.table.Slot(i)
			s.Lock()
			s.ClearFlag(slot.Idle)
			s.ClearIdleCount()
			s.Unlock()
		}
		return nil

	case "writeback":
		d.initLock.RLock()
		defer d.initLock.RUnlock()
		if err := d.requireConfigured(); err != nil {
			return err
		}
		req, err := control.ParseWriteback(value)
		if err != nil {
			return err
		}
		_, err = d.policy.Run(context.Background(), req)
		return err

	case "writeback_limit":
		limit, err := control.ParseSize(value)
		if err != nil {
			return err
		}
		d.initLock.RLock()
		defer d.initLock.RUnlock()
		if err := d.requireConfigured(); err != nil {
			return err
		}
		if d.backing == nil {
			return common.NewError(common.KindState, "no backing device configured")
		}
		_, enable := d.backing.WriteLimit()
		d.backing.SetWriteLimit(limit, enable)
		return nil

	case "writeback_limit_enable":
		enable, err := control.ParseBool(value)
		if err != nil {
			return err
		}
		d.initLock.RLock()
		defer d.initLock.RUnlock()
		if err := d.requireConfigured(); err != nil {
			return err
		}
		if d.backing == nil {
			return common.NewError(common.KindState, "no backing device configured")
		}
		limit, _ := d.backing.WriteLimit()
		d.backing.SetWriteLimit(limit, enable)
		return nil

	default:
		return common.NewError(common.KindValidation, fmt.Sprintf("unknown attribute %q", name))
	}
}
