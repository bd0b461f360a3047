// Package devicewatch listens for udev netlink events so the daemon
// host notices observatory hardware appearing or disappearing on its
// USB-serial bridges without polling /dev.
package devicewatch
