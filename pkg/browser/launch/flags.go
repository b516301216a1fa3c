package launch

// DebugPort is the fixed local remote-debugging port.
const DebugPort = 9222

const (
	// FlagNoFirstRun suppresses the first-run experience. A fresh user-data
	// directory is only populated when it is absent.
	FlagNoFirstRun = "--no-first-run"

	FlagDebugPort    = "--remote-debugging-port=9222"
	FlagDebugAddress = "--remote-debugging-address=0.0.0.0"

	// FirefoxNoRemote and WebKitNoStartupWindow are the only baseline flags
	// for the non-Chromium engines.
	FirefoxNoRemote       = "-no-remote"
	WebKitNoStartupWindow = "--no-startup-window"
)

// ChromeBaseArgs is the stability and anti-detection baseline for Chromium.
var ChromeBaseArgs = []string{
	"--disable-field-trial-config",
	"--disable-background-networking",
	"--enable-features=NetworkService,NetworkServiceInProcess",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-back-forward-cache",
	"--disable-breakpad",
	"--disable-client-side-phishing-detection",
	"--disable-component-extensions-with-background-pages",
	"--disable-component-update",
	"--no-default-browser-check",
	"--disable-dev-shm-usage",
	"--disable-features=ImprovedCookieControls,LazyFrameLoading,GlobalMediaControls,DestroyProfileOnBrowserClose,MediaRouter,DialMediaRouteProvider,AcceptCHFrame,AutoExpandDetailsElement,CertificateTransparencyComponentUpdater,AvoidUnnecessaryBeforeUnloadCheckSync,Translate,HttpsUpgrades,PaintHolding",
	"--allow-pre-commit-input",
	"--disable-hang-monitor",
	"--disable-ipc-flooding-protection",
	"--disable-popup-blocking",
	"--disable-prompt-on-repost",
	"--disable-renderer-backgrounding",
	"--metrics-recording-only",
	FlagNoFirstRun,
	"--password-store=basic",
	"--use-mock-keychain",
	"--no-service-autorun",
	"--export-tagged-pdf",
	"--disable-search-engine-choice-screen",
	"--disable-sync",
	"--disable-blink-features=AutomationControlled",
	"--disable-infobars",
	"--hide-crash-restore-bubble",
	"--disable-domain-reliability",
	"--disable-desktop-notifications",
	"--noerrdialogs",
	"--log-level=2",
	FlagDebugPort,
	FlagDebugAddress,
}

// ChromeDockerArgs let Chromium run inside a container without a usable sandbox
// or a large /dev/shm.
var ChromeDockerArgs = []string{
	"--no-sandbox",
	"--disable-gpu-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--no-xshm",
	"--no-zygote",
	"--single-process",
}

// ChromeHeadlessArgs select the new headless mode.
var ChromeHeadlessArgs = []string{
	"--headless=new",
}

// ChromeDisableSecurityArgs are required for cross-origin iframe access.
var ChromeDisableSecurityArgs = []string{
	"--disable-web-security",
	"--disable-site-isolation-trials",
	"--disable-features=IsolateOrigins,site-per-process",
	"--allow-running-insecure-content",
	"--ignore-certificate-errors",
	"--ignore-ssl-errors",
	"--ignore-certificate-errors-spki-list",
}

// ChromeDeterministicArgs make GPU and font output comparable across
// hosts and containers.
var ChromeDeterministicArgs = []string{
	"--deterministic-mode",
	"--js-flags=--random-seed=1157259159",
	"--force-device-scale-factor=2",
	"--enable-webgl",
	"--font-render-hinting=none",
	"--force-color-profile=srgb",
}
