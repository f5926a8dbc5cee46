//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}
*/
import "C"

import "fmt"

// CheckMicrophone returns the current microphone permission status
func CheckMicrophone() Status {
	return Status(C.checkMicrophonePermission())
}

// RequestMicrophone triggers the system microphone permission dialog
func RequestMicrophone() {
	C.requestMicrophonePermission()
}

// EnsureMicrophone returns nil when capture is allowed. An undetermined
// status triggers the system prompt; the caller should retry once the
// user has answered.
func EnsureMicrophone() error {
	status := CheckMicrophone()
	switch status {
	case Authorized:
		return nil
	case NotDetermined:
		RequestMicrophone()
	}
	return fmt.Errorf("%w (%s): allow it in System Settings > Privacy & Security > Microphone", ErrMicrophoneDenied, status)
}
