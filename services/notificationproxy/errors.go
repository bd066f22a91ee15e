package notificationproxy

import "errors"

var (
	errProxyDied = errors.New("notificationproxy: proxy reported death before the observed notification arrived")
	errTimeout   = errors.New("notificationproxy: timed out waiting for notification")
)
