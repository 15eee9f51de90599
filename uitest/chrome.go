package uitest

import (
	"context"
	"fmt"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
)

// ChromeFactory starts a chromedriver service per browser session.
type ChromeFactory struct {
	DriverPath  string
	BrowserPath string
	Port        int
	// Args are passed to Chrome. Nil means headless.
	Args []string
}

var _ BrowserFactory = (*ChromeFactory)(nil)

// NewBrowser starts chromedriver and opens a remote session on it. Quitting
// the returned driver also stops the service.
func (f *ChromeFactory) NewBrowser(context.Context) (selenium.WebDriver, error) {
	service, err := selenium.NewChromeDriverService(f.DriverPath, f.Port)
	if err != nil {
		return nil, fmt.Errorf("start chromedriver: %w", err)
	}

	args := f.Args
	if args == nil {
		args = []string{"--headless", "--no-sandbox"}
	}
	caps := selenium.Capabilities{}
	caps.AddChrome(chrome.Capabilities{Path: f.BrowserPath, Args: args})

	driver, err := selenium.NewRemote(caps, fmt.Sprintf("http://localhost:%d", f.Port))
	if err != nil {
		_ = service.Stop()
		return nil, fmt.Errorf("open chrome session: %w", err)
	}
	return &serviceDriver{WebDriver: driver, service: service}, nil
}

type serviceDriver struct {
	selenium.WebDriver
	service *selenium.Service
}

func (d *serviceDriver) Quit() error {
	quitErr := d.WebDriver.Quit()
	if err := d.service.Stop(); err != nil {
		return err
	}
	return quitErr
}
