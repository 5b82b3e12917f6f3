package gpucompute

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucompute/internal/shaderc"
)

// Dispatch errors.
var (
	// ErrMissingPipeline is returned when a pass names an entry point that has
	// no usable pipeline. Terminal for that pass.
	ErrMissingPipeline = errors.New("gpucompute: missing pipeline")

	// ErrPipelineNotReady is returned while pipeline compilation is pending.
	// Recoverable: jobs stay queued until the pipeline is ready.
	ErrPipelineNotReady = errors.New("gpucompute: pipeline not ready")

	// ErrBindGroupPrepare is returned when a bind group cannot be prepared,
	// typically because a dependency is not registered yet. Recoverable up
	// to the retry limit.
	ErrBindGroupPrepare = errors.New("gpucompute: bind group preparation failed")

	// ErrStagingBufferMissing indicates a bookkeeping inconsistency between
	// the staging set and the prepared bindings. Terminal.
	ErrStagingBufferMissing = errors.New("gpucompute: staging buffer missing")

	// ErrMappingFailed is returned when a staging buffer cannot be mapped
	// for reading. Terminal, not retried.
	ErrMappingFailed = errors.New("gpucompute: buffer mapping failed")

	// ErrChannelFull is returned when a message is sent while the consumer
	// has not drained the previous ones. Terminal.
	ErrChannelFull = errors.New("gpucompute: channel full")

	// ErrRetryLimit is returned when a job is abandoned after too many
	// failed preparation attempts.
	ErrRetryLimit = errors.New("gpucompute: retry limit exceeded")

	// ErrDecode is returned when read-back bytes cannot be decoded.
	ErrDecode = errors.New("gpucompute: decode failed")

	// ErrNoDevice is returned when an engine is set up without a device.
	ErrNoDevice = errors.New("gpucompute: no device")
)

// Pass validation errors. They are reported as warnings and only drop the
// offending pass.
var (
	// ErrInvalidPass is the parent of every pass validation error.
	ErrInvalidPass = errors.New("gpucompute: invalid pass")

	// ErrUnknownEntryPoint is returned for a pass naming an undeclared entry point.
	ErrUnknownEntryPoint = fmt.Errorf("%w: unknown entry point", ErrInvalidPass)

	// ErrZeroWorkgroup is returned for a pass with a zero workgroup component.
	ErrZeroWorkgroup = fmt.Errorf("%w: zero workgroup count", ErrInvalidPass)

	// ErrWorkgroupLimit is returned for a pass exceeding the device workgroup limit.
	ErrWorkgroupLimit = fmt.Errorf("%w: workgroup count exceeds device limit", ErrInvalidPass)
)

// Resource errors.
var (
	// ErrImageNotRegistered is returned when a binding references an image
	// that has no GPU texture yet.
	ErrImageNotRegistered = errors.New("gpucompute: image not registered on the device")

	// ErrImageNotFound is returned for an unknown image ID.
	ErrImageNotFound = errors.New("gpucompute: image not found")

	// ErrShaderNotLoaded is returned when a shader source has not been loaded yet.
	ErrShaderNotLoaded = errors.New("gpucompute: shader not loaded")

	// ErrImportUnresolved is returned when a shader import cannot be resolved yet.
	ErrImportUnresolved = errors.New("gpucompute: shader import unresolved")

	// ErrShaderInvalid is returned for malformed shader sources. Terminal
	// until the source changes.
	ErrShaderInvalid = errors.New("gpucompute: invalid shader")

	// ErrInvalidDescriptor is returned for a binding descriptor that cannot
	// produce a bind group layout.
	ErrInvalidDescriptor = errors.New("gpucompute: invalid binding descriptor")
)

// IsRecoverable reports whether err describes a transient condition that
// resolves by retrying later.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRetryLimit) {
		return false
	}
	return errors.Is(err, ErrPipelineNotReady) ||
		errors.Is(err, ErrBindGroupPrepare) ||
		errors.Is(err, ErrImageNotRegistered) ||
		errors.Is(err, ErrShaderNotLoaded) ||
		errors.Is(err, ErrImportUnresolved)
}

// isMalformed reports whether a shader error is terminal.
func isMalformed(err error) bool {
	return errors.Is(err, shaderc.ErrMalformed) || errors.Is(err, shaderc.ErrImportCycle)
}
