// cmd/coupler-main wires the kernel, the two I2C bus/device manager
// pairs, the settings DB, the debug-print boundary, and the supervisor
// restart tree into a running process.
package main

import (
	"context"
	"time"

	"coupler-fw/boardcfg"
	"coupler-fw/bus"
	"coupler-fw/debugpub"
	"coupler-fw/i2c"
	"coupler-fw/kernel"
	"coupler-fw/settingsdb"
	"coupler-fw/supervisor"
	"coupler-fw/x/dmaring"
	"coupler-fw/x/fmtx"
)

const bootBoard = "coupler-v1"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	k := kernel.NewKernel()
	cfgBus := bus.NewBus(8)

	// Console sink: the one subscriber this process gives the debug-print
	// boundary. A host build would add a comm-forwarder subscription next
	// to it; the publisher neither knows nor cares.
	console := cfgBus.NewConnection("console")
	consoleSub := console.Subscribe(bus.T("debug", "#"))
	go func() {
		for msg := range consoleSub.Channel() {
			if line, ok := msg.Payload.(string); ok {
				fmtx.Printf("%s\n", line)
			}
		}
	}()
	dbg := debugpub.NewWithHostMirror(cfgBus.NewConnection("debugpub"), k)

	cfgConn := cfgBus.NewConnection("boardcfg")
	if err := boardcfg.Publish(cfgConn, bootBoard); err != nil {
		dbg.Errorf("boardcfg: %s", err.Error())
		return
	}

	reg := i2c.DefaultRegistry()

	periph0 := i2c.NewSimPeripheral()
	periph1 := i2c.NewSimPeripheral()

	bus0 := i2c.NewBusManager(k, "bus0", kernel.PriorityBus0, periph0)
	bus1 := i2c.NewBusManager(k, "bus1", kernel.PriorityBus1, periph1)
	dev0 := i2c.NewDeviceManager(k, "dev0", kernel.PriorityDevice0, 0, bus0, reg)
	dev1 := i2c.NewDeviceManager(k, "dev1", kernel.PriorityDevice1, 1, bus1, reg)

	tree, err := supervisor.BuildTree(
		supervisor.Named{AO: bus0.AO, Name: "bus0"},
		supervisor.Named{AO: bus1.AO, Name: "bus1"},
		supervisor.Named{AO: dev0.AO, Name: "dev0"},
		supervisor.Named{AO: dev1.AO, Name: "dev1"},
	)
	if err != nil {
		dbg.Errorf("supervisor: %s", err.Error())
		return
	}
	treeCtx, treeCancel := context.WithCancel(ctx)
	defer treeCancel()
	go func() {
		if err := tree.Start(treeCtx); err != nil && err != context.Canceled {
			dbg.Errorf("supervisor: %s", err.Error())
		}
	}()

	// Pre-scheduler settings-DB bring-up runs over the blocking path on
	// the same peripheral dev0/bus0 will later drive: the synchronous
	// client and the event-driven path share the registry and
	// validation rules, never the peripheral concurrently.
	blocking := i2c.NewBlockingClient(periph0, reg)
	db := settingsdb.New(blocking)
	switch db.IsValid() {
	case "not_init":
		dbg.Infof("settingsdb: cold boot, writing defaults")
		if status := db.InitToDefault(); status != "ok" {
			dbg.Errorf("settingsdb: init_to_default failed: %s", string(status))
		}
	case "ok":
		dbg.Infof("settingsdb: valid")
	default:
		dbg.Errorf("settingsdb: unexpected status")
	}

	ip, status := db.GetElement(settingsdb.IPAddress, 4, settingsdb.AccessBlocking)
	if status == "ok" {
		dbg.Infof("settingsdb: ip_address = %d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
	}

	// A bus-presence probe over Tx exercises drivers.I2C's Tx shape
	// directly, the entry point an off-the-shelf tinygo.org/x/drivers
	// sensor driver would use if handed this same blocking client as its
	// bus: an empty write/read pair still drives the check-free phase.
	if err := blocking.Tx(uint16(reg[i2c.EEPROM].DevAddr), nil, nil); err != nil {
		dbg.Errorf("settingsdb: bus probe failed: %s", err.Error())
	}

	// Give the blocking bring-up a moment before the event-driven path
	// starts sharing the same simulated peripherals.
	time.Sleep(50 * time.Millisecond)

	bus0.Start(ctx)
	bus1.Start(ctx)
	dev0.Start(ctx)
	dev1.Start(ctx)

	// A diagnostic lookup through the dmaring registry, the same path a
	// health check would use to inspect a bus's DMA ring without holding
	// its own pointer into the running BusManager.
	if ring := dmaring.Get(bus0.RingHandle()); ring != nil {
		dbg.Debugf("bus0: dma ring cap=%d available=%d", ring.Cap(), ring.Available())
	}

	boot := demoRequester(k, dbg)
	boot.Start(ctx)

	ev := k.Allocate(kernel.PoolSmall, kernel.DevMemRead)
	ev.Payload = i2c.MemReadReq{Requester: boot, Offset: 0, Count: 17}
	k.Post(dev0.AO, ev)

	// The event-access settings DB exercises kernel.RawQueue: this read
	// has no AO requester, so the device manager answers on the raw
	// queue instead of an AO mailbox, and GetElement blocks on it
	// directly rather than going through the demo requester's AO.
	eventDB := settingsdb.NewWithEventPath(blocking, k, dev0.AO)
	if ip, status := eventDB.GetElement(settingsdb.IPAddress, 4, settingsdb.AccessEvent); status == "ok" {
		dbg.Infof("settingsdb: ip_address (event path) = %d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
	} else {
		dbg.Errorf("settingsdb: event-path read failed: %s", string(status))
	}

	<-ctx.Done()
}

// demoRequester is a minimal AO whose only job is to report whatever
// DEV_READ_DONE/DEV_WRITE_DONE lands in its mailbox, standing in for a
// menu action or host-comm responder.
func demoRequester(k *kernel.Kernel, dbg *debugpub.Publisher) *kernel.AO {
	ao := kernel.NewAO(k, "demo", 1, 4, "Idle", nil)
	ao.Handler = func(ev *kernel.Event) {
		defer k.GarbageCollect(ev)
		if ev.Signal == kernel.DevTimeout {
			payload, _ := ev.Payload.(kernel.StatusPayload)
			dbg.Errorf("demo: %s status=%v", ev.Signal, payload.Status)
			return
		}
		payload, _ := ev.Payload.(kernel.ReadDonePayload)
		dbg.Infof("demo: %s status=%v count=%d buf=%v", ev.Signal, payload.Status, payload.Count, payload.Buf)
	}
	return ao
}
