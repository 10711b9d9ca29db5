package browser

// Messages marshalled from chromedp listeners onto the session loop.

type loadStarted struct{}

type loadFinished struct{}

type addressChanged struct {
	url string
}

// navigationRequest is a paused main-frame document request.
type navigationRequest struct {
	id  string
	url string
}

type popupRequest struct {
	url string
}

// popupTarget is a new window opened by this tab.
type popupTarget struct {
	id string
}

type bindingCalled struct {
	name    string
	payload string
}

type dialogOpened struct {
	kind          string
	message       string
	defaultPrompt string
}
