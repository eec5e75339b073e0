// Command daq-client sends one command to a daq-server and prints the
// result. get-data downloads every port file of the session into a local
// directory.
package main
