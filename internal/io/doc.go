// Package ioutils provides file system and image processing utilities.
//
// This package contains:
//   - FileSystem, the set of file operations a download task performs, and
//     OSFileSystem, its implementation on package os
//   - File copying and cross-device moves
//   - Removal of emptied directory chains after cleanup
//   - Filename sanitization
//   - Human-readable byte sizes (FormatBytes, ParseBytes)
//   - Artwork resizing and JPEG conversion
//
// # File Operations
//
//	// Move a finished temp file into place, copying across devices
//	err := ioutils.MoveFile(ctx, tempPath, finalPath)
//
//	// Drop the temp directory chain once it is empty
//	err = ioutils.RemoveEmptyDirs(filepath.Dir(tempPath), tempRoot)
//
// # Filename Sanitization
//
//	safe := ioutils.SanitizeFileName("Episode: Part 1/2") // "Episode_ Part 1_2"
//
// # Image Processing
//
//	svc := ioutils.NewImageService()
//	cover, _ := svc.PrepareArtwork(ctx, imageData, 600)
package ioutils
