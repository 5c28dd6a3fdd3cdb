//go:build linux && cgo

package ipc

/*
#include <fcntl.h>
#include <semaphore.h>
#include <errno.h>
#include <unistd.h>
#include <stdlib.h>

static sem_t *sem_open_excl(const char *name, unsigned int initial, int *err) {
	sem_t *s = sem_open(name, O_CREAT | O_EXCL, 0600, initial);
	if (s == SEM_FAILED) {
		*err = errno;
		return 0;
	}
	return s;
}

static sem_t *sem_open_existing(const char *name, int *err) {
	sem_t *s = sem_open(name, 0);
	if (s == SEM_FAILED) {
		*err = errno;
		return 0;
	}
	return s;
}

static int sem_wait_wrap(sem_t *s) {
	int rc;
	do {
		rc = sem_wait(s);
	} while (rc != 0 && errno == EINTR);
	return rc == 0 ? 0 : errno;
}

static int sem_post_wrap(sem_t *s) {
	return sem_post(s) == 0 ? 0 : errno;
}

static int sem_close_wrap(sem_t *s) {
	return sem_close(s) == 0 ? 0 : errno;
}

static int sem_unlink_wrap(const char *name) {
	return sem_unlink(name) == 0 ? 0 : errno;
}
*/
import "C"

import (
	"syscall"
	"unsafe"
)

func semOpenExclusive(pinnedName string, initial uint32) (backendHandle, error) {
	cname := C.CString(pinnedName)
	defer C.free(unsafe.Pointer(cname))

	var cerr C.int
	sem := C.sem_open_excl(cname, C.uint(initial), &cerr)
	if sem == nil {
		return backendHandle{}, syscall.Errno(cerr)
	}
	return backendHandle{ptr: unsafe.Pointer(sem)}, nil
}

func semOpenExisting(pinnedName string) (backendHandle, error) {
	cname := C.CString(pinnedName)
	defer C.free(unsafe.Pointer(cname))

	var cerr C.int
	sem := C.sem_open_existing(cname, &cerr)
	if sem == nil {
		return backendHandle{}, syscall.Errno(cerr)
	}
	return backendHandle{ptr: unsafe.Pointer(sem)}, nil
}

func semWait(h backendHandle) error {
	if errno := C.sem_wait_wrap((*C.sem_t)(h.ptr)); errno != 0 {
		return syscall.Errno(errno)
	}
	return nil
}

func semPost(h backendHandle) error {
	if errno := C.sem_post_wrap((*C.sem_t)(h.ptr)); errno != 0 {
		return syscall.Errno(errno)
	}
	return nil
}

func semCloseHandle(h backendHandle) error {
	if errno := C.sem_close_wrap((*C.sem_t)(h.ptr)); errno != 0 {
		return syscall.Errno(errno)
	}
	return nil
}

func semUnlinkName(pinnedName string) error {
	cname := C.CString(pinnedName)
	defer C.free(unsafe.Pointer(cname))
	if errno := C.sem_unlink_wrap(cname); errno != 0 {
		return syscall.Errno(errno)
	}
	return nil
}
