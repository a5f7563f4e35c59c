package pipeline

import "errors"

// ErrNoSamples is returned when a driver is built without any sample
var ErrNoSamples = errors.New("no samples to process")

// ErrNoGlobalConfig is returned when a driver is built without run settings
var ErrNoGlobalConfig = errors.New("global configuration is required")

// ErrAlreadyRun is returned when Run is called on a driver that has left init
var ErrAlreadyRun = errors.New("driver has already run")
