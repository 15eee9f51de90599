package countingsql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"

	"github.com/fllarpy/uiprobe/counters"
)

// ---------------- Driver registration ----------------

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]driver.Driver)
)

// Register wraps the provided driver with counting logic and registers it in
// database/sql under the given name. Typical usage:
//
//	collector := counters.NewDataCollector()
//	countingsql.Register("sqlite3-counting", &sqlite3.SQLiteDriver{}, collector)
//	db, _ := sql.Open("sqlite3-counting", dsn)
//
// Panics if the driver is nil or the name is already taken.
func Register(name string, d driver.Driver, sink counters.Incrementer) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if d == nil {
		panic("countingsql: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("countingsql: Register called twice for driver " + name)
	}

	drivers[name] = d
	sql.Register(name, WrapDriver(d, sink))
}

// WrapDriver returns a driver whose connections count on sink.
func WrapDriver(d driver.Driver, sink counters.Incrementer) driver.Driver {
	return &countingDriver{realDriver: d, rec: recorder{sink: sink}}
}

// WrapConnector returns a connector for sql.OpenDB whose connections count on
// sink.
func WrapConnector(c driver.Connector, sink counters.Incrementer) driver.Connector {
	rec := recorder{sink: sink}
	return &countingConnector{
		realConnector: c,
		driver:        &countingDriver{realDriver: c.Driver(), rec: rec},
		rec:           rec,
	}
}

// ---------------- Driver wrappers ----------------

type countingDriver struct {
	realDriver driver.Driver
	rec        recorder
}

var _ driver.DriverContext = (*countingDriver)(nil)

func (d *countingDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.realDriver.Open(name)
	if err != nil {
		return nil, err
	}
	return newConn(conn, d.rec), nil
}

func (d *countingDriver) OpenConnector(name string) (driver.Connector, error) {
	if dc, ok := d.realDriver.(driver.DriverContext); ok {
		c, err := dc.OpenConnector(name)
		if err != nil {
			return nil, err
		}
		return &countingConnector{realConnector: c, driver: d, rec: d.rec}, nil
	}
	return &countingConnector{realConnector: dsnConnector{dsn: name, driver: d.realDriver}, driver: d, rec: d.rec}, nil
}

type countingConnector struct {
	realConnector driver.Connector
	driver        *countingDriver
	rec           recorder

	closeOnce sync.Once
	closeErr  error
}

func (c *countingConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.realConnector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return newConn(conn, c.rec), nil
}

func (c *countingConnector) Driver() driver.Driver { return c.driver }

// Close is called by sql.DB.Close.
func (c *countingConnector) Close() error {
	c.closeOnce.Do(func() {
		if closer, ok := c.realConnector.(io.Closer); ok {
			c.closeErr = closer.Close()
		}
	})
	return c.closeErr
}

// dsnConnector adapts drivers that do not implement driver.DriverContext.
type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) { return c.driver.Open(c.dsn) }

func (c dsnConnector) Driver() driver.Driver { return c.driver }

// NewDSNConnector returns a connector that opens dsn with d, for drivers that
// do not implement driver.DriverContext.
func NewDSNConnector(d driver.Driver, dsn string) driver.Connector {
	return dsnConnector{dsn: dsn, driver: d}
}
