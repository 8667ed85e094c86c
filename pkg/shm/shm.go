/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/aklivity/zilla-sub038/pkg/log"
)

const filePrefix = "dataplane_shm_"

// Path is the backing file of the named region under dir.
func Path(dir string, name string) string {
	return filepath.Join(dir, filePrefix+name)
}

// Alloc maps the named region read-write, creating the backing file
// when it does not exist yet.
func Alloc(dir string, name string, size int) (*ShmSpan, error) {
	path := Path(dir, name)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "shm dir for %s", name)
	}

	// check consistency
	if err := checkConsistency(path, size); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return nil, err
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %s", path)
	}

	// lock mmap data to avoid I/O page fault
	if err := unix.Mlock(data); err != nil {
		log.DefaultLogger.Warnf("[shm] failed to mlock %s, please check the RLIMIT_MEMLOCK: %v", path, err)
	}

	span := NewShmSpan(name, data)
	span.path = path
	span.mapped = true
	return span, nil
}

// Attach maps an existing region read-only. Inspection tools use it to
// follow a running worker without being able to disturb it.
func Attach(dir string, name string) (*ShmSpan, error) {
	path := Path(dir, name)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("mmap target path %s is empty", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %s", path)
	}

	span := NewShmSpan(name, data)
	span.path = path
	span.mapped = true
	span.readOnly = true
	return span, nil
}

// Free unmaps the span and removes its backing file.
func Free(span *ShmSpan) error {
	if err := DeAlloc(span); err != nil {
		return err
	}
	if span.path == "" {
		return nil
	}
	return Clear(filepath.Dir(span.path), span.name)
}

// DeAlloc unmaps the span and keeps the backing file.
func DeAlloc(span *ShmSpan) error {
	if !span.mapped {
		return nil
	}
	span.mapped = false
	return unix.Munmap(span.origin)
}

func Clear(dir string, name string) error {
	return os.Remove(Path(dir, name))
}

func checkConsistency(path string, size int) error {
	if info, err := os.Stat(path); err == nil {
		if info.Size() != int64(size) {
			return fmt.Errorf("mmap target path %s exists and its size %d mismatch %d", path, info.Size(), size)
		}
		return nil
	} else if os.IsNotExist(err) {
		return nil
	} else {
		return err
	}
}
